package oauthclient

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
)

// stateEntropyBytes is the amount of randomness behind a generated state or
// nonce value. 16 bytes encode to 22 base64url characters.
const stateEntropyBytes = 16

// generateRandomState produces a fresh CSRF token suitable for the state
// and nonce parameters.
func generateRandomState() string {
	random := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(random); err != nil {
		panic(fmt.Sprintf("oauthclient: unable to generate random state: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(random)
}

// checkAdditionalParams rejects caller-supplied additional parameters whose
// keys collide with the reserved parameter names of the request being built.
// A nil map is returned as an empty copy so callers can mutate freely.
func checkAdditionalParams(params map[string]string, reserved map[string]bool) (map[string]string, error) {
	copied := make(map[string]string, len(params))
	for key, value := range params {
		if reserved[key] {
			return nil, fmt.Errorf("additional parameter %q is reserved and may not be provided", key)
		}
		copied[key] = value
	}
	return copied, nil
}

// cloneParams copies a string map; nil in, nil out.
func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	copied := make(map[string]string, len(params))
	for key, value := range params {
		copied[key] = value
	}
	return copied
}

// setIfPresent adds a query/body parameter only when the value is non-empty.
func setIfPresent(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}

// extraParamsFromQuery collects every query parameter not in the reserved
// set for the response type being parsed.
func extraParamsFromQuery(values url.Values, reserved map[string]bool) map[string]string {
	extra := make(map[string]string)
	for key := range values {
		if !reserved[key] {
			extra[key] = values.Get(key)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

package oauthclient

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/oakauth/oauthclient/internal/util"
)

// tokenResponseReservedKeys are the wire fields mapped to struct fields;
// everything else the server returned lands in AdditionalParameters.
var tokenResponseReservedKeys = map[string]bool{
	"access_token":  true,
	"token_type":    true,
	"expires_in":    true,
	"refresh_token": true,
	"id_token":      true,
	"scope":         true,
}

// TokenResponse is a successful token endpoint response, with the relative
// expires_in lifetime already resolved against the clock that observed it.
type TokenResponse struct {
	// Request is the request this response answers.
	Request *TokenRequest `json:"request"`

	// TokenType is the access token type, normally "Bearer".
	TokenType string `json:"tokenType,omitempty"`

	// AccessToken is the issued access token, if any.
	AccessToken string `json:"accessToken,omitempty"`

	// AccessTokenExpiry is the absolute instant the access token expires.
	// Zero when the server did not state a lifetime.
	AccessTokenExpiry time.Time `json:"accessTokenExpiry,omitzero"`

	// IDToken is the raw ID token, if one was issued.
	IDToken string `json:"idToken,omitempty"`

	// RefreshToken is the issued refresh token, if any.
	RefreshToken string `json:"refreshToken,omitempty"`

	// Scope is the granted scope when it differs from the requested one.
	Scope string `json:"scope,omitempty"`

	// AdditionalParameters holds non-standard response fields.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// tokenResponseWire is the RFC 6749 response shape. expires_in is declared
// as json.Number so servers that quote the value still parse.
type tokenResponseWire struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    json.Number `json:"expires_in"`
	RefreshToken string      `json:"refresh_token"`
	IDToken      string      `json:"id_token"`
	Scope        string      `json:"scope"`
}

// ParseTokenResponse decodes a token endpoint success body. The clock fixes
// the instant expires_in is measured from.
func ParseTokenResponse(req *TokenRequest, body []byte, clock Clock) (*TokenResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("token request must not be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}

	var wire tokenResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, ErrJSONDeserialization.WithCause(err)
	}
	if wire.AccessToken == "" {
		return nil, ErrJSONDeserialization.WithDescription("token response is missing access_token")
	}

	resp := &TokenResponse{
		Request:      req,
		TokenType:    wire.TokenType,
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		IDToken:      wire.IDToken,
		Scope:        wire.Scope,
	}
	if wire.ExpiresIn != "" {
		seconds, err := wire.ExpiresIn.Int64()
		if err != nil {
			return nil, ErrJSONDeserialization.WithCause(fmt.Errorf("expires_in: %w", err))
		}
		resp.AccessTokenExpiry = clock.Now().Add(time.Duration(seconds) * time.Second)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err == nil {
		extras := make(map[string]string)
		for key, value := range raw {
			if tokenResponseReservedKeys[key] {
				continue
			}
			var s string
			if err := json.Unmarshal(value, &s); err == nil {
				extras[key] = s
			} else {
				extras[key] = string(value)
			}
		}
		if len(extras) > 0 {
			resp.AdditionalParameters = extras
		}
	}
	return resp, nil
}

// ScopeSet returns the granted scope as individual values.
func (r *TokenResponse) ScopeSet() []string {
	return util.SplitSpaceDelimited(r.Scope)
}

// OAuth2Token converts the response into an x/oauth2 token so it can feed
// APIs built around that package.
func (r *TokenResponse) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       r.AccessTokenExpiry,
	}
}

// ParseTokenResponseJSON restores a persisted TokenResponse.
func ParseTokenResponseJSON(data []byte) (*TokenResponse, error) {
	var resp TokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &resp, nil
}

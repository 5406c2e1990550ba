package oauthclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/oakauth/oauthclient/internal/util"
)

// authorizationResponseParams are the callback parameters parsed into
// dedicated fields; everything else lands in AdditionalParameters.
var authorizationResponseParams = map[string]bool{
	"state":             true,
	"code":              true,
	"access_token":      true,
	"token_type":        true,
	"expires_in":        true,
	"id_token":          true,
	"scope":             true,
	"error":             true,
	"error_description": true,
	"error_uri":         true,
}

// AuthorizationResponse is the successful result of an authorization
// redirect, parsed from the callback URI the user agent returned with.
type AuthorizationResponse struct {
	// Request is the originating request this response answers.
	Request *AuthorizationRequest `json:"request"`

	// State echoes the request's CSRF token.
	State string `json:"state,omitempty"`

	// AuthorizationCode is present for code flows and is exchanged at the
	// token endpoint.
	AuthorizationCode string `json:"authorizationCode,omitempty"`

	// AccessToken, TokenType and AccessTokenExpiry are present for
	// implicit/hybrid flows that return a token directly.
	AccessToken       string    `json:"accessToken,omitempty"`
	TokenType         string    `json:"tokenType,omitempty"`
	AccessTokenExpiry time.Time `json:"accessTokenExpiry,omitzero"`

	// IDToken is the raw ID token for hybrid flows.
	IDToken string `json:"idToken,omitempty"`

	// Scope is the granted scope; may differ from the requested scope.
	Scope string `json:"scope,omitempty"`

	// AdditionalParameters preserves unrecognized callback parameters.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// ParseAuthorizationResponse parses a redirect callback URI against its
// originating request. State verification happens before anything else:
// on mismatch the result is exactly ErrStateMismatch and no other callback
// content, the embedded authorization code included, is exposed.
//
// When the callback carries an OAuth error document, the returned error is
// the corresponding authorization-stage error. The clock converts the
// relative expires_in parameter into an absolute expiry instant.
func ParseAuthorizationResponse(req *AuthorizationRequest, callbackURI string, clock Clock) (*AuthorizationResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("authorization request must not be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	parsed, err := url.Parse(callbackURI)
	if err != nil {
		return nil, ErrAuthorizationInvalidRequest.WithCause(fmt.Errorf("parsing callback URI: %w", err))
	}

	values := parsed.Query()
	if len(values) == 0 && parsed.Fragment != "" {
		// Fragment-encoded responses (response_mode=fragment, implicit
		// flows) reuse the query syntax after the '#'.
		if fragmentValues, fragErr := url.ParseQuery(parsed.Fragment); fragErr == nil {
			values = fragmentValues
		}
	}

	if err := verifyState(req.State, values); err != nil {
		return nil, err
	}

	if values.Get("error") != "" {
		return nil, errorFromQuery(values)
	}

	resp := &AuthorizationResponse{
		Request:              req,
		State:                values.Get("state"),
		AuthorizationCode:    values.Get("code"),
		AccessToken:          values.Get("access_token"),
		TokenType:            values.Get("token_type"),
		IDToken:              values.Get("id_token"),
		Scope:                values.Get("scope"),
		AdditionalParameters: extraParamsFromQuery(values, authorizationResponseParams),
	}
	if expiresIn := values.Get("expires_in"); expiresIn != "" {
		seconds, parseErr := strconv.ParseInt(expiresIn, 10, 64)
		if parseErr != nil {
			return nil, ErrAuthorizationInvalidRequest.WithCause(fmt.Errorf("parsing expires_in: %w", parseErr))
		}
		resp.AccessTokenExpiry = clock.Now().Add(time.Duration(seconds) * time.Second)
	}
	return resp, nil
}

// verifyState applies the state matching rules: a request without state
// accepts only callbacks without state; a request with state accepts only an
// exact echo.
func verifyState(requestState string, values url.Values) error {
	callbackState := values.Get("state")
	if requestState == "" {
		if callbackState != "" {
			return ErrStateMismatch
		}
		return nil
	}
	if callbackState != requestState {
		return ErrStateMismatch
	}
	return nil
}

// TokenExchangeRequest derives the token request that exchanges this
// response's authorization code, carrying forward the PKCE verifier,
// redirect URI and nonce.
func (r *AuthorizationResponse) TokenExchangeRequest() (*TokenRequest, error) {
	return r.TokenExchangeRequestWithParams(nil)
}

// TokenExchangeRequestWithParams is TokenExchangeRequest with extra token
// request parameters attached.
func (r *AuthorizationResponse) TokenExchangeRequestWithParams(params map[string]string) (*TokenRequest, error) {
	if r.AuthorizationCode == "" {
		return nil, fmt.Errorf("no authorization code available for token exchange")
	}
	b := NewTokenRequestBuilder(r.Request.Config, r.Request.ClientID, GrantTypeAuthorizationCode).
		SetRedirectURI(r.Request.RedirectURI).
		SetAuthorizationCode(r.AuthorizationCode)
	if r.Request.CodeVerifier != "" {
		b.SetCodeVerifier(r.Request.CodeVerifier)
	}
	if r.Request.Nonce != "" {
		b.SetNonce(r.Request.Nonce)
	}
	if r.Request.Scope != "" {
		b.SetScope(r.Request.Scope)
	}
	if len(params) > 0 {
		b.SetAdditionalParameters(params)
	}
	return b.Build()
}

// ScopeSet returns the granted scope as individual values.
func (r *AuthorizationResponse) ScopeSet() []string {
	return util.SplitSpaceDelimited(r.Scope)
}

// ParseAuthorizationResponseJSON restores a persisted response.
func ParseAuthorizationResponseJSON(data []byte) (*AuthorizationResponse, error) {
	var resp AuthorizationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding authorization response: %w", err)
	}
	if resp.Request == nil {
		return nil, fmt.Errorf("decoding authorization response: request is missing")
	}
	return &resp, nil
}

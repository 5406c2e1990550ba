package oauthclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/oakauth/oauthclient/internal/util"
)

// Grant type values for the token request.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeClientCredentials = "client_credentials"
)

// tokenReservedParams are the parameter names the builder manages itself.
// client_id and client_secret are reserved too: they are attached by the
// ClientAuthentication strategy, never by callers.
var tokenReservedParams = map[string]bool{
	"grant_type":    true,
	"client_id":     true,
	"client_secret": true,
	"code":          true,
	"redirect_uri":  true,
	"refresh_token": true,
	"device_code":   true,
	"code_verifier": true,
	"scope":         true,
}

// TokenRequest is a request against the token endpoint: an authorization
// code exchange, a refresh, or a device code poll depending on GrantType.
// Construct one through NewTokenRequestBuilder.
type TokenRequest struct {
	// Config addresses the authorization server.
	Config *ServiceConfiguration `json:"configuration"`

	// ClientID is the client identifier (required).
	ClientID string `json:"clientId"`

	// GrantType selects the token grant (required).
	GrantType string `json:"grantType"`

	// RedirectURI is required for code exchange and absent otherwise.
	RedirectURI string `json:"redirectUri,omitempty"`

	// AuthorizationCode, RefreshToken and DeviceCode are mutually
	// contextual: exactly the one matching GrantType is set.
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	RefreshToken      string `json:"refreshToken,omitempty"`
	DeviceCode        string `json:"deviceCode,omitempty"`

	// CodeVerifier is the PKCE verifier carried forward from the
	// authorization request.
	CodeVerifier string `json:"codeVerifier,omitempty"`

	// Scope optionally narrows or restates the requested scope.
	Scope string `json:"scope,omitempty"`

	// Nonce is not sent on the wire; it is carried so an ID token in the
	// response can be validated against the originating request.
	Nonce string `json:"nonce,omitempty"`

	// AdditionalParameters carries extension parameters; keys are disjoint
	// from the reserved parameter names.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// TokenRequestBuilder assembles a TokenRequest with eager validation; the
// first contract violation sticks and is reported by Build.
type TokenRequestBuilder struct {
	req TokenRequest
	err error
}

// NewTokenRequestBuilder starts a token request for the given grant type.
func NewTokenRequestBuilder(config *ServiceConfiguration, clientID, grantType string) *TokenRequestBuilder {
	b := &TokenRequestBuilder{}
	switch {
	case config == nil:
		b.err = fmt.Errorf("service configuration must not be nil")
	case clientID == "":
		b.err = fmt.Errorf("client ID must not be empty")
	case grantType == "":
		b.err = fmt.Errorf("grant type must not be empty")
	}
	if b.err != nil {
		return b
	}
	b.req = TokenRequest{
		Config:    config,
		ClientID:  clientID,
		GrantType: grantType,
	}
	return b
}

func (b *TokenRequestBuilder) setOptional(field *string, name, value string) *TokenRequestBuilder {
	if b.err != nil {
		return b
	}
	if value == "" {
		b.err = fmt.Errorf("%s must not be empty; omit the setter to leave it unset", name)
		return b
	}
	*field = value
	return b
}

// SetRedirectURI sets the redirect URI for code exchange requests.
func (b *TokenRequestBuilder) SetRedirectURI(redirectURI string) *TokenRequestBuilder {
	return b.setOptional(&b.req.RedirectURI, "redirect URI", redirectURI)
}

// SetAuthorizationCode sets the code being exchanged.
func (b *TokenRequestBuilder) SetAuthorizationCode(code string) *TokenRequestBuilder {
	return b.setOptional(&b.req.AuthorizationCode, "authorization code", code)
}

// SetRefreshToken sets the refresh token for refresh grants.
func (b *TokenRequestBuilder) SetRefreshToken(refreshToken string) *TokenRequestBuilder {
	return b.setOptional(&b.req.RefreshToken, "refresh token", refreshToken)
}

// SetDeviceCode sets the device code for device grants.
func (b *TokenRequestBuilder) SetDeviceCode(deviceCode string) *TokenRequestBuilder {
	return b.setOptional(&b.req.DeviceCode, "device code", deviceCode)
}

// SetCodeVerifier sets the PKCE verifier; it must satisfy RFC 7636.
func (b *TokenRequestBuilder) SetCodeVerifier(verifier string) *TokenRequestBuilder {
	if b.err != nil {
		return b
	}
	if err := CheckCodeVerifier(verifier); err != nil {
		b.err = err
		return b
	}
	b.req.CodeVerifier = verifier
	return b
}

// SetNonce carries the originating request's nonce for ID token validation.
func (b *TokenRequestBuilder) SetNonce(nonce string) *TokenRequestBuilder {
	return b.setOptional(&b.req.Nonce, "nonce", nonce)
}

// SetScope sets the scope from an already-joined string.
func (b *TokenRequestBuilder) SetScope(scope string) *TokenRequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Scope = util.JoinSpaceDelimited(strings.Fields(scope))
	return b
}

// SetScopes sets the scope from individual values.
func (b *TokenRequestBuilder) SetScopes(scopes ...string) *TokenRequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Scope = util.JoinSpaceDelimited(scopes)
	return b
}

// SetAdditionalParameters attaches extension parameters. Reserved keys are
// rejected immediately.
func (b *TokenRequestBuilder) SetAdditionalParameters(params map[string]string) *TokenRequestBuilder {
	if b.err != nil {
		return b
	}
	copied, err := checkAdditionalParams(params, tokenReservedParams)
	if err != nil {
		b.err = err
		return b
	}
	b.req.AdditionalParameters = copied
	return b
}

// Build finalizes the request, enforcing the per-grant field requirements.
func (b *TokenRequestBuilder) Build() (*TokenRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	switch b.req.GrantType {
	case GrantTypeAuthorizationCode:
		if b.req.AuthorizationCode == "" {
			return nil, fmt.Errorf("authorization code is required for the %s grant", GrantTypeAuthorizationCode)
		}
		if b.req.RedirectURI == "" {
			return nil, fmt.Errorf("redirect URI is required for the %s grant", GrantTypeAuthorizationCode)
		}
	case GrantTypeRefreshToken:
		if b.req.RefreshToken == "" {
			return nil, fmt.Errorf("refresh token is required for the %s grant", GrantTypeRefreshToken)
		}
	case GrantTypeDeviceCode:
		if b.req.DeviceCode == "" {
			return nil, fmt.Errorf("device code is required for the device grant")
		}
	}
	req := b.req
	req.AdditionalParameters = cloneParams(b.req.AdditionalParameters)
	return &req, nil
}

// ToValues serializes the request into the form-encoded token endpoint
// body. Client credentials are not included here; the chosen
// ClientAuthentication strategy attaches them.
func (r *TokenRequest) ToValues() url.Values {
	values := url.Values{}
	values.Set("grant_type", r.GrantType)
	setIfPresent(values, "redirect_uri", r.RedirectURI)
	setIfPresent(values, "code", r.AuthorizationCode)
	setIfPresent(values, "refresh_token", r.RefreshToken)
	setIfPresent(values, "device_code", r.DeviceCode)
	setIfPresent(values, "code_verifier", r.CodeVerifier)
	setIfPresent(values, "scope", r.Scope)
	for key, value := range r.AdditionalParameters {
		values.Set(key, value)
	}
	return values
}

// ScopeSet returns the requested scope as individual values.
func (r *TokenRequest) ScopeSet() []string {
	return util.SplitSpaceDelimited(r.Scope)
}

// ParseTokenRequest restores a request from its JSON form.
func ParseTokenRequest(data []byte) (*TokenRequest, error) {
	var req TokenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding token request: %w", err)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("decoding token request: configuration is missing")
	}
	return &req, nil
}

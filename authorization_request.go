package oauthclient

import (
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/oakauth/oauthclient/internal/util"
)

// Response type values for the authorization request.
const (
	ResponseTypeCode    = "code"
	ResponseTypeToken   = "token"
	ResponseTypeIDToken = "id_token"
)

// authorizationReservedParams are the parameter names the builder manages
// itself; they may never appear in caller-supplied additional parameters.
var authorizationReservedParams = map[string]bool{
	"client_id":             true,
	"response_type":         true,
	"redirect_uri":          true,
	"scope":                 true,
	"state":                 true,
	"nonce":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
	"response_mode":         true,
	"display":               true,
	"prompt":                true,
	"login_hint":            true,
	"ui_locales":            true,
}

// AuthorizationRequest is an OAuth 2.0 / OIDC authorization request
// (RFC 6749 section 4.1.1), ready to be serialized into a redirect URI.
// Values are immutable once built; construct one through
// NewAuthorizationRequestBuilder.
type AuthorizationRequest struct {
	// Config addresses the authorization server.
	Config *ServiceConfiguration `json:"configuration"`

	// ClientID is the client identifier (required).
	ClientID string `json:"clientId"`

	// ResponseType is the space-joined response type (required,
	// typically "code").
	ResponseType string `json:"responseType"`

	// RedirectURI is where the user agent returns after authorization
	// (required).
	RedirectURI string `json:"redirectUri"`

	// Scope is the space-joined requested scope; empty means unset.
	Scope string `json:"scope,omitempty"`

	// State is the CSRF token echoed back on the redirect. Generated by
	// default; empty only when explicitly disabled.
	State string `json:"state,omitempty"`

	// Nonce binds an issued ID token to this request. Generated by default
	// for flows that can yield an ID token; empty when disabled.
	Nonce string `json:"nonce,omitempty"`

	// CodeVerifier, CodeVerifierChallenge and CodeVerifierChallengeMethod
	// form the PKCE triple. Challenge and method are jointly present or
	// jointly absent.
	CodeVerifier                string `json:"codeVerifier,omitempty"`
	CodeVerifierChallenge       string `json:"codeVerifierChallenge,omitempty"`
	CodeVerifierChallengeMethod string `json:"codeVerifierChallengeMethod,omitempty"`

	// ResponseMode requests a particular redirect mechanism ("query",
	// "fragment").
	ResponseMode string `json:"responseMode,omitempty"`

	// Display, Prompt, LoginHint and UILocales are the optional OIDC
	// authentication request parameters of the same names.
	Display   string `json:"display,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	LoginHint string `json:"login_hint,omitempty"`
	UILocales string `json:"ui_locales,omitempty"`

	// AdditionalParameters carries extension parameters; keys are disjoint
	// from the reserved parameter names.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// AuthorizationRequestBuilder assembles an AuthorizationRequest, validating
// each field as it is set and once more at Build. The first contract
// violation sticks: subsequent setters become no-ops and Build reports it.
type AuthorizationRequestBuilder struct {
	req AuthorizationRequest
	err error
}

// NewAuthorizationRequestBuilder starts a request for the given client.
// State, nonce and the PKCE triple are initialized to fresh random values;
// use the Disable methods to opt out.
func NewAuthorizationRequestBuilder(config *ServiceConfiguration, clientID, responseType, redirectURI string) *AuthorizationRequestBuilder {
	b := &AuthorizationRequestBuilder{}
	switch {
	case config == nil:
		b.err = fmt.Errorf("service configuration must not be nil")
	case clientID == "":
		b.err = fmt.Errorf("client ID must not be empty")
	case responseType == "":
		b.err = fmt.Errorf("response type must not be empty")
	case redirectURI == "":
		b.err = fmt.Errorf("redirect URI must not be empty")
	}
	if b.err != nil {
		return b
	}
	verifier := GenerateCodeVerifier()
	b.req = AuthorizationRequest{
		Config:                      config,
		ClientID:                    clientID,
		ResponseType:                responseType,
		RedirectURI:                 redirectURI,
		State:                       generateRandomState(),
		CodeVerifier:                verifier,
		CodeVerifierChallenge:       S256Challenge(verifier),
		CodeVerifierChallengeMethod: CodeChallengeMethodS256,
	}
	// A pure token response carries no ID token, so a nonce would never be
	// checked.
	if responseType != ResponseTypeToken {
		b.req.Nonce = generateRandomState()
	}
	return b
}

// setOptional enforces the empty-vs-unset distinction shared by all nullable
// string setters: the empty string is always a contract violation.
func (b *AuthorizationRequestBuilder) setOptional(field *string, name, value string) *AuthorizationRequestBuilder {
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

// setSpaceDelimited canonicalizes multi-value input into the joined string
// shape. An empty canonical result clears the field back to unset.
func (b *AuthorizationRequestBuilder) setSpaceDelimited(field *string, values []string) *AuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	*field = util.JoinSpaceDelimited(values)
	return b
}

// SetScope sets the scope from an already-joined string.
func (b *AuthorizationRequestBuilder) SetScope(scope string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.Scope, strings.Fields(scope))
}

// SetScopes sets the scope from individual values.
func (b *AuthorizationRequestBuilder) SetScopes(scopes ...string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.Scope, scopes)
}

// SetScopeSeq sets the scope from an iterator of values.
func (b *AuthorizationRequestBuilder) SetScopeSeq(scopes iter.Seq[string]) *AuthorizationRequestBuilder {
	var collected []string
	for scope := range scopes {
		collected = append(collected, scope)
	}
	return b.setSpaceDelimited(&b.req.Scope, collected)
}

// SetState replaces the generated state value. Empty input is a contract
// violation; use DisableState to opt out of CSRF state entirely.
func (b *AuthorizationRequestBuilder) SetState(state string) *AuthorizationRequestBuilder {
	return b.setOptional(&b.req.State, "state", state)
}

// DisableState removes the state parameter from the request.
func (b *AuthorizationRequestBuilder) DisableState() *AuthorizationRequestBuilder {
	if b.err == nil {
		b.req.State = ""
	}
	return b
}

// SetNonce replaces the generated nonce value.
func (b *AuthorizationRequestBuilder) SetNonce(nonce string) *AuthorizationRequestBuilder {
	return b.setOptional(&b.req.Nonce, "nonce", nonce)
}

// DisableNonce removes the nonce parameter from the request.
func (b *AuthorizationRequestBuilder) DisableNonce() *AuthorizationRequestBuilder {
	if b.err == nil {
		b.req.Nonce = ""
	}
	return b
}

// SetCodeVerifier replaces the generated PKCE verifier, deriving the S256
// challenge. The verifier must satisfy the RFC 7636 constraints.
func (b *AuthorizationRequestBuilder) SetCodeVerifier(verifier string) *AuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	if err := CheckCodeVerifier(verifier); err != nil {
		b.err = err
		return b
	}
	b.req.CodeVerifier = verifier
	b.req.CodeVerifierChallenge = S256Challenge(verifier)
	b.req.CodeVerifierChallengeMethod = CodeChallengeMethodS256
	return b
}

// SetCodeVerifierWithChallenge supplies a custom challenge and method pair
// alongside the verifier; both must be provided together.
func (b *AuthorizationRequestBuilder) SetCodeVerifierWithChallenge(verifier, challenge, method string) *AuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	if err := CheckCodeVerifier(verifier); err != nil {
		b.err = err
		return b
	}
	if challenge == "" || method == "" {
		b.err = fmt.Errorf("code challenge and challenge method must be provided together")
		return b
	}
	b.req.CodeVerifier = verifier
	b.req.CodeVerifierChallenge = challenge
	b.req.CodeVerifierChallengeMethod = method
	return b
}

// DisablePKCE removes the PKCE triple from the request.
func (b *AuthorizationRequestBuilder) DisablePKCE() *AuthorizationRequestBuilder {
	if b.err == nil {
		b.req.CodeVerifier = ""
		b.req.CodeVerifierChallenge = ""
		b.req.CodeVerifierChallengeMethod = ""
	}
	return b
}

// SetResponseMode sets the response_mode parameter.
func (b *AuthorizationRequestBuilder) SetResponseMode(mode string) *AuthorizationRequestBuilder {
	return b.setOptional(&b.req.ResponseMode, "response mode", mode)
}

// SetDisplay sets the display parameter.
func (b *AuthorizationRequestBuilder) SetDisplay(display string) *AuthorizationRequestBuilder {
	return b.setOptional(&b.req.Display, "display", display)
}

// SetPrompt sets the prompt parameter from an already-joined string.
func (b *AuthorizationRequestBuilder) SetPrompt(prompt string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.Prompt, strings.Fields(prompt))
}

// SetPromptValues sets the prompt parameter from individual values.
func (b *AuthorizationRequestBuilder) SetPromptValues(prompts ...string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.Prompt, prompts)
}

// SetPromptSeq sets the prompt parameter from an iterator of values.
func (b *AuthorizationRequestBuilder) SetPromptSeq(prompts iter.Seq[string]) *AuthorizationRequestBuilder {
	var collected []string
	for prompt := range prompts {
		collected = append(collected, prompt)
	}
	return b.setSpaceDelimited(&b.req.Prompt, collected)
}

// SetLoginHint sets the login_hint parameter.
func (b *AuthorizationRequestBuilder) SetLoginHint(hint string) *AuthorizationRequestBuilder {
	return b.setOptional(&b.req.LoginHint, "login hint", hint)
}

// SetUILocales sets the ui_locales parameter from an already-joined string.
func (b *AuthorizationRequestBuilder) SetUILocales(locales string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.UILocales, strings.Fields(locales))
}

// SetUILocaleValues sets the ui_locales parameter from individual values.
func (b *AuthorizationRequestBuilder) SetUILocaleValues(locales ...string) *AuthorizationRequestBuilder {
	return b.setSpaceDelimited(&b.req.UILocales, locales)
}

// SetUILocaleSeq sets the ui_locales parameter from an iterator of values.
func (b *AuthorizationRequestBuilder) SetUILocaleSeq(locales iter.Seq[string]) *AuthorizationRequestBuilder {
	var collected []string
	for locale := range locales {
		collected = append(collected, locale)
	}
	return b.setSpaceDelimited(&b.req.UILocales, collected)
}

// SetAdditionalParameters attaches extension parameters. Reserved keys are
// rejected immediately.
func (b *AuthorizationRequestBuilder) SetAdditionalParameters(params map[string]string) *AuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	copied, err := checkAdditionalParams(params, authorizationReservedParams)
	if err != nil {
		b.err = err
		return b
	}
	b.req.AdditionalParameters = copied
	return b
}

// Build finalizes and returns the immutable request.
func (b *AuthorizationRequestBuilder) Build() (*AuthorizationRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	if (b.req.CodeVerifierChallenge == "") != (b.req.CodeVerifierChallengeMethod == "") {
		return nil, fmt.Errorf("code challenge and challenge method must be jointly present or jointly absent")
	}
	req := b.req
	req.AdditionalParameters = cloneParams(b.req.AdditionalParameters)
	return &req, nil
}

// ToURL serializes the request into the redirect URI that initiates the
// authorization flow. Query parameters already present on the endpoint are
// preserved, and the result uses the canonical sorted query encoding, so
// equal requests always produce byte-identical URLs.
func (r *AuthorizationRequest) ToURL() (string, error) {
	endpoint, err := url.Parse(r.Config.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint: %w", err)
	}
	values := endpoint.Query()
	values.Set("client_id", r.ClientID)
	values.Set("response_type", r.ResponseType)
	values.Set("redirect_uri", r.RedirectURI)
	setIfPresent(values, "scope", r.Scope)
	setIfPresent(values, "state", r.State)
	setIfPresent(values, "nonce", r.Nonce)
	setIfPresent(values, "code_challenge", r.CodeVerifierChallenge)
	setIfPresent(values, "code_challenge_method", r.CodeVerifierChallengeMethod)
	setIfPresent(values, "response_mode", r.ResponseMode)
	setIfPresent(values, "display", r.Display)
	setIfPresent(values, "prompt", r.Prompt)
	setIfPresent(values, "login_hint", r.LoginHint)
	setIfPresent(values, "ui_locales", r.UILocales)
	for key, value := range r.AdditionalParameters {
		values.Set(key, value)
	}
	endpoint.RawQuery = values.Encode()
	return endpoint.String(), nil
}

// ScopeSet returns the requested scope as individual values.
func (r *AuthorizationRequest) ScopeSet() []string {
	return util.SplitSpaceDelimited(r.Scope)
}

// stateKey returns the correlation key this request occupies in a pending
// callback registry.
func (r *AuthorizationRequest) stateKey() string {
	return r.State
}

// ParseAuthorizationRequest restores a request from its JSON form.
func ParseAuthorizationRequest(data []byte) (*AuthorizationRequest, error) {
	var req AuthorizationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding authorization request: %w", err)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("decoding authorization request: configuration is missing")
	}
	return &req, nil
}

package oauthclient

import (
	"encoding/json"
	"fmt"
	"net/url"
)

var endSessionReservedParams = map[string]bool{
	"id_token_hint":            true,
	"post_logout_redirect_uri": true,
	"state":                    true,
	"ui_locales":               true,
}

// EndSessionRequest is an RP-initiated logout request per OpenID Connect
// RP-Initiated Logout. Construct one through NewEndSessionRequestBuilder.
type EndSessionRequest struct {
	// Config addresses the authorization server; its end session endpoint
	// must be set before the request URL is built.
	Config *ServiceConfiguration `json:"configuration"`

	// IDTokenHint is the ID token identifying the session to terminate.
	IDTokenHint string `json:"idTokenHint,omitempty"`

	// PostLogoutRedirectURI is where the user agent returns after logout.
	PostLogoutRedirectURI string `json:"postLogoutRedirectUri,omitempty"`

	// State is the opaque value echoed back on the post-logout redirect.
	// Empty means state round-tripping is disabled.
	State string `json:"state,omitempty"`

	// UILocales expresses the preferred display languages.
	UILocales string `json:"ui_locales,omitempty"`

	// AdditionalParameters carries extension parameters.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// EndSessionRequestBuilder assembles an EndSessionRequest; the first
// contract violation sticks and is reported by Build.
//
// A fresh builder carries a generated state so the post-logout redirect can
// be correlated; call DisableState to opt out.
type EndSessionRequestBuilder struct {
	req EndSessionRequest
	err error
}

// NewEndSessionRequestBuilder starts an end session request.
func NewEndSessionRequestBuilder(config *ServiceConfiguration) *EndSessionRequestBuilder {
	b := &EndSessionRequestBuilder{}
	if config == nil {
		b.err = fmt.Errorf("service configuration must not be nil")
		return b
	}
	if config.EndSessionEndpoint == "" {
		b.err = fmt.Errorf("service configuration has no end session endpoint")
		return b
	}
	b.req = EndSessionRequest{
		Config: config,
		State:  generateRandomState(),
	}
	return b
}

func (b *EndSessionRequestBuilder) setOptional(field *string, name, value string) *EndSessionRequestBuilder {
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

// SetIDTokenHint sets the ID token identifying the session.
func (b *EndSessionRequestBuilder) SetIDTokenHint(idToken string) *EndSessionRequestBuilder {
	return b.setOptional(&b.req.IDTokenHint, "ID token hint", idToken)
}

// SetPostLogoutRedirectURI sets the post-logout return location.
func (b *EndSessionRequestBuilder) SetPostLogoutRedirectURI(redirectURI string) *EndSessionRequestBuilder {
	return b.setOptional(&b.req.PostLogoutRedirectURI, "post logout redirect URI", redirectURI)
}

// SetState replaces the generated state with a caller-chosen value.
func (b *EndSessionRequestBuilder) SetState(state string) *EndSessionRequestBuilder {
	return b.setOptional(&b.req.State, "state", state)
}

// DisableState removes state from the request entirely.
func (b *EndSessionRequestBuilder) DisableState() *EndSessionRequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.State = ""
	return b
}

// SetUILocales sets the preferred display languages.
func (b *EndSessionRequestBuilder) SetUILocales(uiLocales string) *EndSessionRequestBuilder {
	return b.setOptional(&b.req.UILocales, "ui_locales", uiLocales)
}

// SetAdditionalParameters attaches extension parameters. Reserved keys are
// rejected immediately.
func (b *EndSessionRequestBuilder) SetAdditionalParameters(params map[string]string) *EndSessionRequestBuilder {
	if b.err != nil {
		return b
	}
	copied, err := checkAdditionalParams(params, endSessionReservedParams)
	if err != nil {
		b.err = err
		return b
	}
	b.req.AdditionalParameters = copied
	return b
}

// Build finalizes the end session request.
func (b *EndSessionRequestBuilder) Build() (*EndSessionRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	req := b.req
	req.AdditionalParameters = cloneParams(b.req.AdditionalParameters)
	return &req, nil
}

// ToURL renders the complete end session endpoint URL. The query is encoded
// canonically so equal requests render byte-identical URLs.
func (r *EndSessionRequest) ToURL() (string, error) {
	endpoint, err := url.Parse(r.Config.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing end session endpoint: %w", err)
	}
	values := endpoint.Query()
	setIfPresent(values, "id_token_hint", r.IDTokenHint)
	setIfPresent(values, "post_logout_redirect_uri", r.PostLogoutRedirectURI)
	setIfPresent(values, "state", r.State)
	setIfPresent(values, "ui_locales", r.UILocales)
	for key, value := range r.AdditionalParameters {
		values.Set(key, value)
	}
	endpoint.RawQuery = values.Encode()
	return endpoint.String(), nil
}

// stateKey returns the correlation key for the pending callback registry.
func (r *EndSessionRequest) stateKey() string { return r.State }

// ParseEndSessionRequest restores a request from its JSON form.
func ParseEndSessionRequest(data []byte) (*EndSessionRequest, error) {
	var req EndSessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding end session request: %w", err)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("decoding end session request: configuration is missing")
	}
	return &req, nil
}

// EndSessionResponse is the post-logout redirect delivered back to the
// client.
type EndSessionResponse struct {
	// Request is the request this response answers.
	Request *EndSessionRequest `json:"request"`

	// State echoes the request state.
	State string `json:"state,omitempty"`

	// AdditionalParameters holds any non-standard redirect parameters.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// ParseEndSessionResponse interprets the post-logout redirect URI. The
// echoed state must match the request state exactly; a mismatch in either
// direction is rejected.
func ParseEndSessionResponse(req *EndSessionRequest, callbackURI string) (*EndSessionResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("end session request must not be nil")
	}
	parsed, err := url.Parse(callbackURI)
	if err != nil {
		return nil, ErrAuthorizationInvalidRequest.WithCause(fmt.Errorf("parsing callback URI: %w", err))
	}
	values := parsed.Query()

	if values.Get("state") != req.State {
		return nil, ErrStateMismatch
	}
	if oauthCode := values.Get("error"); oauthCode != "" {
		return nil, errorFromQuery(values)
	}

	return &EndSessionResponse{
		Request:              req,
		State:                values.Get("state"),
		AdditionalParameters: extraParamsFromQuery(values, map[string]bool{"state": true, "error": true, "error_description": true, "error_uri": true}),
	}, nil
}

// ParseEndSessionResponseJSON restores a persisted EndSessionResponse.
func ParseEndSessionResponseJSON(data []byte) (*EndSessionResponse, error) {
	var resp EndSessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding end session response: %w", err)
	}
	return &resp, nil
}

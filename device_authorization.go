package oauthclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oakauth/oauthclient/internal/util"
)

// defaultDeviceTokenInterval is the poll interval RFC 8628 prescribes when
// the server does not state one.
const defaultDeviceTokenInterval = 5 * time.Second

var deviceAuthorizationReservedParams = map[string]bool{
	"client_id": true,
	"scope":     true,
}

// DeviceAuthorizationRequest is a device authorization request per RFC 8628
// section 3.1.
type DeviceAuthorizationRequest struct {
	// Config addresses the authorization server; its device authorization
	// endpoint must be set before the request is sent.
	Config *ServiceConfiguration `json:"configuration"`

	// ClientID is the client identifier (required).
	ClientID string `json:"clientId"`

	// Scope optionally states the requested scope.
	Scope string `json:"scope,omitempty"`

	// AdditionalParameters carries extension parameters.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// DeviceAuthorizationRequestBuilder assembles a DeviceAuthorizationRequest;
// the first contract violation sticks and is reported by Build.
type DeviceAuthorizationRequestBuilder struct {
	req DeviceAuthorizationRequest
	err error
}

// NewDeviceAuthorizationRequestBuilder starts a device authorization
// request.
func NewDeviceAuthorizationRequestBuilder(config *ServiceConfiguration, clientID string) *DeviceAuthorizationRequestBuilder {
	b := &DeviceAuthorizationRequestBuilder{}
	switch {
	case config == nil:
		b.err = fmt.Errorf("service configuration must not be nil")
	case config.DeviceAuthorizationEndpoint == "":
		b.err = fmt.Errorf("service configuration has no device authorization endpoint")
	case clientID == "":
		b.err = fmt.Errorf("client ID must not be empty")
	}
	if b.err != nil {
		return b
	}
	b.req = DeviceAuthorizationRequest{
		Config:   config,
		ClientID: clientID,
	}
	return b
}

// SetScope sets the scope from an already-joined string.
func (b *DeviceAuthorizationRequestBuilder) SetScope(scope string) *DeviceAuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Scope = util.JoinSpaceDelimited(strings.Fields(scope))
	return b
}

// SetScopes sets the scope from individual values.
func (b *DeviceAuthorizationRequestBuilder) SetScopes(scopes ...string) *DeviceAuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Scope = util.JoinSpaceDelimited(scopes)
	return b
}

// SetAdditionalParameters attaches extension parameters. Reserved keys are
// rejected immediately.
func (b *DeviceAuthorizationRequestBuilder) SetAdditionalParameters(params map[string]string) *DeviceAuthorizationRequestBuilder {
	if b.err != nil {
		return b
	}
	copied, err := checkAdditionalParams(params, deviceAuthorizationReservedParams)
	if err != nil {
		b.err = err
		return b
	}
	b.req.AdditionalParameters = copied
	return b
}

// Build finalizes the device authorization request.
func (b *DeviceAuthorizationRequestBuilder) Build() (*DeviceAuthorizationRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	req := b.req
	req.AdditionalParameters = cloneParams(b.req.AdditionalParameters)
	return &req, nil
}

// ToValues serializes the request into the form-encoded endpoint body.
// client_id is included here because RFC 8628 carries it in the body even
// for public clients.
func (r *DeviceAuthorizationRequest) ToValues() url.Values {
	values := url.Values{}
	values.Set("client_id", r.ClientID)
	setIfPresent(values, "scope", r.Scope)
	for key, value := range r.AdditionalParameters {
		values.Set(key, value)
	}
	return values
}

// TokenRequest derives the token endpoint poll request for this device
// authorization.
func (r *DeviceAuthorizationRequest) TokenRequest(resp *DeviceAuthorizationResponse) (*TokenRequest, error) {
	if resp == nil {
		return nil, fmt.Errorf("device authorization response must not be nil")
	}
	return NewTokenRequestBuilder(r.Config, r.ClientID, GrantTypeDeviceCode).
		SetDeviceCode(resp.DeviceCode).
		Build()
}

// DeviceAuthorizationResponse is a device authorization response per
// RFC 8628 section 3.2, with the relative expires_in lifetime resolved to
// an absolute instant.
type DeviceAuthorizationResponse struct {
	// Request is the request this response answers.
	Request *DeviceAuthorizationRequest `json:"request"`

	// DeviceCode is the code the client polls the token endpoint with.
	DeviceCode string `json:"deviceCode"`

	// UserCode is the short code the user enters at the verification URI.
	UserCode string `json:"userCode"`

	// VerificationURI is where the user authorizes the device.
	VerificationURI string `json:"verificationUri"`

	// VerificationURIComplete embeds the user code in the URI, when the
	// server offers one.
	VerificationURIComplete string `json:"verificationUriComplete,omitempty"`

	// Expiry is the absolute instant the device and user codes expire.
	Expiry time.Time `json:"expiry,omitzero"`

	// Interval is the minimum wait between token endpoint polls.
	Interval time.Duration `json:"interval"`
}

type deviceAuthorizationWire struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// ParseDeviceAuthorizationResponse decodes a device authorization endpoint
// success body. The clock fixes the instant expires_in is measured from.
func ParseDeviceAuthorizationResponse(req *DeviceAuthorizationRequest, body []byte, clock Clock) (*DeviceAuthorizationResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("device authorization request must not be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}

	var wire deviceAuthorizationWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, ErrJSONDeserialization.WithCause(err)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"device_code", wire.DeviceCode},
		{"user_code", wire.UserCode},
		{"verification_uri", wire.VerificationURI},
	} {
		if field.value == "" {
			return nil, &MissingFieldError{Field: field.name}
		}
	}

	resp := &DeviceAuthorizationResponse{
		Request:                 req,
		DeviceCode:              wire.DeviceCode,
		UserCode:                wire.UserCode,
		VerificationURI:         wire.VerificationURI,
		VerificationURIComplete: wire.VerificationURIComplete,
		Interval:                defaultDeviceTokenInterval,
	}
	if wire.ExpiresIn > 0 {
		resp.Expiry = clock.Now().Add(time.Duration(wire.ExpiresIn) * time.Second)
	}
	if wire.Interval > 0 {
		resp.Interval = time.Duration(wire.Interval) * time.Second
	}
	return resp, nil
}

// HasExpired reports whether the device code has expired at the clock's
// current instant.
func (r *DeviceAuthorizationResponse) HasExpired(clock Clock) bool {
	if clock == nil {
		clock = SystemClock{}
	}
	if r.Expiry.IsZero() {
		return false
	}
	return !clock.Now().Before(r.Expiry)
}

// ParseDeviceAuthorizationResponseJSON restores a persisted response.
func ParseDeviceAuthorizationResponseJSON(data []byte) (*DeviceAuthorizationResponse, error) {
	var resp DeviceAuthorizationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding device authorization response: %w", err)
	}
	return &resp, nil
}

package oauthclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApplicationTypeNative is the application_type this library registers;
// browser-based web clients are out of scope.
const ApplicationTypeNative = "native"

var registrationReservedParams = map[string]bool{
	"redirect_uris":              true,
	"response_types":             true,
	"grant_types":                true,
	"application_type":           true,
	"subject_type":               true,
	"token_endpoint_auth_method": true,
	"jwks_uri":                   true,
	"jwks":                       true,
}

// RegistrationRequest is a dynamic client registration request per
// RFC 7591 and OpenID Connect Dynamic Client Registration.
type RegistrationRequest struct {
	// Config addresses the authorization server; its registration
	// endpoint must be set before the request is sent.
	Config *ServiceConfiguration `json:"configuration"`

	// RedirectURIs lists the redirect URIs to register (required).
	RedirectURIs []string `json:"redirectUris"`

	// ResponseTypes and GrantTypes declare the flows the client intends
	// to use. Optional; the server applies its defaults when absent.
	ResponseTypes []string `json:"responseTypes,omitempty"`
	GrantTypes    []string `json:"grantTypes,omitempty"`

	// SubjectType requests a pairwise or public subject identifier.
	SubjectType string `json:"subjectType,omitempty"`

	// TokenEndpointAuthMethod requests how the client will authenticate
	// at the token endpoint.
	TokenEndpointAuthMethod string `json:"tokenEndpointAuthMethod,omitempty"`

	// JWKSURI and JWKS optionally publish the client's keys. At most one
	// may be set.
	JWKSURI string          `json:"jwksUri,omitempty"`
	JWKS    json.RawMessage `json:"jwks,omitempty"`

	// AdditionalParameters carries extension metadata fields.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

// RegistrationRequestBuilder assembles a RegistrationRequest; the first
// contract violation sticks and is reported by Build.
type RegistrationRequestBuilder struct {
	req RegistrationRequest
	err error
}

// NewRegistrationRequestBuilder starts a registration request for the given
// redirect URIs. At least one redirect URI is required.
func NewRegistrationRequestBuilder(config *ServiceConfiguration, redirectURIs ...string) *RegistrationRequestBuilder {
	b := &RegistrationRequestBuilder{}
	switch {
	case config == nil:
		b.err = fmt.Errorf("service configuration must not be nil")
	case len(redirectURIs) == 0:
		b.err = fmt.Errorf("at least one redirect URI is required")
	}
	if b.err != nil {
		return b
	}
	for _, uri := range redirectURIs {
		if uri == "" {
			b.err = fmt.Errorf("redirect URIs must not be empty")
			return b
		}
	}
	b.req = RegistrationRequest{
		Config:       config,
		RedirectURIs: append([]string(nil), redirectURIs...),
	}
	return b
}

// SetResponseTypes declares the response types the client will use.
func (b *RegistrationRequestBuilder) SetResponseTypes(responseTypes ...string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if len(responseTypes) == 0 {
		b.err = fmt.Errorf("response types must not be empty; omit the setter to leave them unset")
		return b
	}
	b.req.ResponseTypes = append([]string(nil), responseTypes...)
	return b
}

// SetGrantTypes declares the grant types the client will use.
func (b *RegistrationRequestBuilder) SetGrantTypes(grantTypes ...string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if len(grantTypes) == 0 {
		b.err = fmt.Errorf("grant types must not be empty; omit the setter to leave them unset")
		return b
	}
	b.req.GrantTypes = append([]string(nil), grantTypes...)
	return b
}

// SetSubjectType requests a subject identifier type.
func (b *RegistrationRequestBuilder) SetSubjectType(subjectType string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if subjectType == "" {
		b.err = fmt.Errorf("subject type must not be empty; omit the setter to leave it unset")
		return b
	}
	b.req.SubjectType = subjectType
	return b
}

// SetTokenEndpointAuthMethod requests a token endpoint authentication
// method.
func (b *RegistrationRequestBuilder) SetTokenEndpointAuthMethod(method string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if method == "" {
		b.err = fmt.Errorf("token endpoint auth method must not be empty; omit the setter to leave it unset")
		return b
	}
	b.req.TokenEndpointAuthMethod = method
	return b
}

// SetJWKSURI publishes the client's keys by reference. Mutually exclusive
// with SetJWKS.
func (b *RegistrationRequestBuilder) SetJWKSURI(jwksURI string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if jwksURI == "" {
		b.err = fmt.Errorf("jwks_uri must not be empty; omit the setter to leave it unset")
		return b
	}
	if b.req.JWKS != nil {
		b.err = fmt.Errorf("jwks_uri and jwks must not both be set")
		return b
	}
	b.req.JWKSURI = jwksURI
	return b
}

// SetJWKS publishes the client's keys by value. Mutually exclusive with
// SetJWKSURI.
func (b *RegistrationRequestBuilder) SetJWKS(jwks json.RawMessage) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	if len(jwks) == 0 {
		b.err = fmt.Errorf("jwks must not be empty; omit the setter to leave it unset")
		return b
	}
	if b.req.JWKSURI != "" {
		b.err = fmt.Errorf("jwks_uri and jwks must not both be set")
		return b
	}
	b.req.JWKS = append(json.RawMessage(nil), jwks...)
	return b
}

// SetAdditionalParameters attaches extension metadata fields. Reserved keys
// are rejected immediately.
func (b *RegistrationRequestBuilder) SetAdditionalParameters(params map[string]string) *RegistrationRequestBuilder {
	if b.err != nil {
		return b
	}
	copied, err := checkAdditionalParams(params, registrationReservedParams)
	if err != nil {
		b.err = err
		return b
	}
	b.req.AdditionalParameters = copied
	return b
}

// Build finalizes the registration request.
func (b *RegistrationRequestBuilder) Build() (*RegistrationRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	req := b.req
	req.RedirectURIs = append([]string(nil), b.req.RedirectURIs...)
	req.AdditionalParameters = cloneParams(b.req.AdditionalParameters)
	return &req, nil
}

// registrationWire is the RFC 7591 request body shape.
type registrationWire struct {
	RedirectURIs            []string        `json:"redirect_uris"`
	ResponseTypes           []string        `json:"response_types,omitempty"`
	GrantTypes              []string        `json:"grant_types,omitempty"`
	ApplicationType         string          `json:"application_type"`
	SubjectType             string          `json:"subject_type,omitempty"`
	TokenEndpointAuthMethod string          `json:"token_endpoint_auth_method,omitempty"`
	JWKSURI                 string          `json:"jwks_uri,omitempty"`
	JWKS                    json.RawMessage `json:"jwks,omitempty"`
}

// ToJSON serializes the request into the registration endpoint body.
// The application type is always "native".
func (r *RegistrationRequest) ToJSON() ([]byte, error) {
	wire := registrationWire{
		RedirectURIs:            r.RedirectURIs,
		ResponseTypes:           r.ResponseTypes,
		GrantTypes:              r.GrantTypes,
		ApplicationType:         ApplicationTypeNative,
		SubjectType:             r.SubjectType,
		TokenEndpointAuthMethod: r.TokenEndpointAuthMethod,
		JWKSURI:                 r.JWKSURI,
		JWKS:                    r.JWKS,
	}
	if r.AdditionalParameters == nil {
		return json.Marshal(wire)
	}
	// Extension fields are merged at the top level of the body.
	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range r.AdditionalParameters {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// ParseRegistrationRequest restores a request from its JSON form.
func ParseRegistrationRequest(data []byte) (*RegistrationRequest, error) {
	var req RegistrationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding registration request: %w", err)
	}
	if req.Config == nil {
		return nil, fmt.Errorf("decoding registration request: configuration is missing")
	}
	return &req, nil
}

var registrationResponseReservedKeys = map[string]bool{
	"client_id":                  true,
	"client_secret":              true,
	"client_id_issued_at":        true,
	"client_secret_expires_at":   true,
	"registration_access_token":  true,
	"registration_client_uri":    true,
	"token_endpoint_auth_method": true,
}

// RegistrationResponse is a successful dynamic registration response with
// the epoch instants resolved to absolute times.
type RegistrationResponse struct {
	// Request is the request this response answers.
	Request *RegistrationRequest `json:"request"`

	// ClientID is the issued client identifier (always present).
	ClientID string `json:"clientId"`

	// ClientSecret is the issued secret, empty for public clients.
	ClientSecret string `json:"clientSecret,omitempty"`

	// ClientIDIssuedAt is when the identifier was issued. Zero when the
	// server did not report it.
	ClientIDIssuedAt time.Time `json:"clientIdIssuedAt,omitzero"`

	// ClientSecretExpiresAt is when the secret expires. Zero means the
	// secret does not expire or no secret was issued.
	ClientSecretExpiresAt time.Time `json:"clientSecretExpiresAt,omitzero"`

	// RegistrationAccessToken and RegistrationClientURI allow later
	// management of the registration.
	RegistrationAccessToken string `json:"registrationAccessToken,omitempty"`
	RegistrationClientURI   string `json:"registrationClientUri,omitempty"`

	// TokenEndpointAuthMethod is the method the server settled on.
	TokenEndpointAuthMethod string `json:"tokenEndpointAuthMethod,omitempty"`

	// AdditionalParameters holds non-standard response fields.
	AdditionalParameters map[string]string `json:"additionalParameters,omitempty"`
}

type registrationResponseWire struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at"`
	RegistrationAccessToken string `json:"registration_access_token"`
	RegistrationClientURI   string `json:"registration_client_uri"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`
}

// ParseRegistrationResponse decodes a registration endpoint success body.
func ParseRegistrationResponse(req *RegistrationRequest, body []byte) (*RegistrationResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("registration request must not be nil")
	}
	var wire registrationResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, ErrJSONDeserialization.WithCause(err)
	}
	if wire.ClientID == "" {
		return nil, &MissingFieldError{Field: "client_id"}
	}

	resp := &RegistrationResponse{
		Request:                 req,
		ClientID:                wire.ClientID,
		ClientSecret:            wire.ClientSecret,
		RegistrationAccessToken: wire.RegistrationAccessToken,
		RegistrationClientURI:   wire.RegistrationClientURI,
		TokenEndpointAuthMethod: wire.TokenEndpointAuthMethod,
	}
	if wire.ClientIDIssuedAt > 0 {
		resp.ClientIDIssuedAt = time.Unix(wire.ClientIDIssuedAt, 0).UTC()
	}
	if wire.ClientSecretExpiresAt > 0 {
		resp.ClientSecretExpiresAt = time.Unix(wire.ClientSecretExpiresAt, 0).UTC()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err == nil {
		extras := make(map[string]string)
		for key, value := range raw {
			if registrationResponseReservedKeys[key] {
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

// HasSecretExpired reports whether the issued secret has expired at the
// clock's current instant. A zero expiry never expires.
func (r *RegistrationResponse) HasSecretExpired(clock Clock) bool {
	if clock == nil {
		clock = SystemClock{}
	}
	if r.ClientSecretExpiresAt.IsZero() {
		return false
	}
	return !clock.Now().Before(r.ClientSecretExpiresAt)
}

// ClientAuthentication builds the strategy matching the registered
// token_endpoint_auth_method and issued secret.
func (r *RegistrationResponse) ClientAuthentication() (ClientAuthentication, error) {
	return ClientAuthenticationFor(r.TokenEndpointAuthMethod, r.ClientSecret)
}

// ParseRegistrationResponseJSON restores a persisted RegistrationResponse.
func ParseRegistrationResponseJSON(data []byte) (*RegistrationResponse, error) {
	var resp RegistrationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding registration response: %w", err)
	}
	return &resp, nil
}

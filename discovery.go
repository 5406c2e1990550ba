package oauthclient

import (
	"encoding/json"
	"fmt"
)

// wellKnownPath is the suffix appended to an issuer to locate its OIDC
// discovery document.
const wellKnownPath = "/.well-known/openid-configuration"

// ProviderMetadata is an OpenID Connect provider discovery document
// (OpenID Connect Discovery 1.0, compatible with RFC 8414 authorization
// server metadata). Unknown top-level keys are preserved verbatim in Extra
// so nothing a provider publishes is lost across a persistence round trip.
type ProviderMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	EndSessionEndpoint                string   `json:"end_session_endpoint,omitempty"`
	DeviceAuthorizationEndpoint       string   `json:"device_authorization_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`

	// Extra holds unrecognized top-level document keys.
	Extra map[string]any `json:"-"`
}

// discoveryRequiredFields names the fields OIDC discovery mandates, in the
// order they are checked. Validation reports the first one absent.
var discoveryRequiredFields = []string{
	"issuer",
	"authorization_endpoint",
	"jwks_uri",
	"response_types_supported",
	"subject_types_supported",
	"id_token_signing_alg_values_supported",
}

// Validate checks the OIDC-mandated fields, failing with a
// MissingFieldError naming the first absent one.
func (m *ProviderMetadata) Validate() error {
	present := map[string]bool{
		"issuer":                                m.Issuer != "",
		"authorization_endpoint":                m.AuthorizationEndpoint != "",
		"jwks_uri":                              m.JWKSURI != "",
		"response_types_supported":              len(m.ResponseTypesSupported) > 0,
		"subject_types_supported":               len(m.SubjectTypesSupported) > 0,
		"id_token_signing_alg_values_supported": len(m.IDTokenSigningAlgValuesSupported) > 0,
	}
	for _, field := range discoveryRequiredFields {
		if !present[field] {
			return &MissingFieldError{Field: field}
		}
	}
	return nil
}

// providerMetadataAlias breaks the UnmarshalJSON/MarshalJSON recursion.
type providerMetadataAlias ProviderMetadata

// knownMetadataKeys is derived from the struct tags once, to separate known
// document keys from extras.
var knownMetadataKeys = map[string]bool{
	"issuer":                                true,
	"authorization_endpoint":                true,
	"token_endpoint":                        true,
	"userinfo_endpoint":                     true,
	"jwks_uri":                              true,
	"registration_endpoint":                 true,
	"end_session_endpoint":                  true,
	"device_authorization_endpoint":         true,
	"revocation_endpoint":                   true,
	"introspection_endpoint":                true,
	"scopes_supported":                      true,
	"response_types_supported":              true,
	"response_modes_supported":              true,
	"grant_types_supported":                 true,
	"subject_types_supported":               true,
	"id_token_signing_alg_values_supported": true,
	"token_endpoint_auth_methods_supported": true,
	"claims_supported":                      true,
	"code_challenge_methods_supported":      true,
}

// UnmarshalJSON decodes the document, stashing unknown keys in Extra.
func (m *ProviderMetadata) UnmarshalJSON(data []byte) error {
	var alias providerMetadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("decoding provider metadata: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding provider metadata keys: %w", err)
	}
	for key, value := range raw {
		if knownMetadataKeys[key] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return fmt.Errorf("decoding provider metadata key %q: %w", key, err)
		}
		if alias.Extra == nil {
			alias.Extra = make(map[string]any)
		}
		alias.Extra[key] = decoded
	}
	*m = ProviderMetadata(alias)
	return nil
}

// MarshalJSON re-emits the document including preserved extra keys.
func (m *ProviderMetadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(providerMetadataAlias(*m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range m.Extra {
		if !knownMetadataKeys[key] {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// ParseProviderMetadata decodes and validates a discovery document.
func ParseProviderMetadata(data []byte) (*ProviderMetadata, error) {
	var metadata ProviderMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, ErrJSONDeserialization.WithCause(err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, ErrInvalidDiscoveryDocument.WithCause(err)
	}
	return &metadata, nil
}

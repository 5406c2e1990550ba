package oauthclient

import (
	"encoding/json"
	"fmt"
)

// ServiceConfiguration holds the endpoints of an authorization server. It is
// built either statically, for providers whose endpoints are known up front,
// or from a fetched discovery document via NewServiceConfigurationFromMetadata.
//
// Treat a ServiceConfiguration as immutable once constructed: every request
// type embeds it by reference and assumes the endpoints do not change.
type ServiceConfiguration struct {
	// AuthorizationEndpoint is the URL users are redirected to for
	// authorization (required).
	AuthorizationEndpoint string `json:"authorizationEndpoint"`

	// TokenEndpoint is the URL for code exchange and token refresh (required).
	TokenEndpoint string `json:"tokenEndpoint"`

	// RegistrationEndpoint is the dynamic client registration URL (optional).
	RegistrationEndpoint string `json:"registrationEndpoint,omitempty"`

	// EndSessionEndpoint is the RP-initiated logout URL (optional).
	EndSessionEndpoint string `json:"endSessionEndpoint,omitempty"`

	// DeviceAuthorizationEndpoint is the RFC 8628 device flow URL (optional).
	DeviceAuthorizationEndpoint string `json:"deviceAuthorizationEndpoint,omitempty"`

	// RevocationEndpoint is the RFC 7009 token revocation URL (optional).
	RevocationEndpoint string `json:"revocationEndpoint,omitempty"`

	// UserInfoEndpoint is the OIDC userinfo URL (optional, discovery only).
	UserInfoEndpoint string `json:"userInfoEndpoint,omitempty"`

	// JWKSEndpoint is the provider's key set URL (optional, discovery only).
	JWKSEndpoint string `json:"jwksEndpoint,omitempty"`

	// Metadata is the raw discovery document this configuration was built
	// from, when it was built via discovery. Nil for static configurations.
	Metadata *ProviderMetadata `json:"discoveryDoc,omitempty"`
}

// NewServiceConfiguration builds a static configuration from the two
// endpoints every flow needs. Optional endpoints are set on the returned
// value before first use.
func NewServiceConfiguration(authorizationEndpoint, tokenEndpoint string) (*ServiceConfiguration, error) {
	cfg := &ServiceConfiguration{
		AuthorizationEndpoint: authorizationEndpoint,
		TokenEndpoint:         tokenEndpoint,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewServiceConfigurationFromMetadata builds a configuration from a
// validated discovery document.
func NewServiceConfigurationFromMetadata(metadata *ProviderMetadata) (*ServiceConfiguration, error) {
	if metadata == nil {
		return nil, fmt.Errorf("provider metadata is required")
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	return &ServiceConfiguration{
		AuthorizationEndpoint:       metadata.AuthorizationEndpoint,
		TokenEndpoint:               metadata.TokenEndpoint,
		RegistrationEndpoint:        metadata.RegistrationEndpoint,
		EndSessionEndpoint:          metadata.EndSessionEndpoint,
		DeviceAuthorizationEndpoint: metadata.DeviceAuthorizationEndpoint,
		RevocationEndpoint:          metadata.RevocationEndpoint,
		UserInfoEndpoint:            metadata.UserInfoEndpoint,
		JWKSEndpoint:                metadata.JWKSURI,
		Metadata:                    metadata,
	}, nil
}

// Validate checks that the configuration carries the endpoints required for
// the authorization code flow.
func (c *ServiceConfiguration) Validate() error {
	if c.AuthorizationEndpoint == "" {
		return fmt.Errorf("authorization endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("token endpoint is required")
	}
	return nil
}

// Equal reports whether two configurations address the same endpoints. The
// raw discovery document is not part of the comparison.
func (c *ServiceConfiguration) Equal(other *ServiceConfiguration) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.AuthorizationEndpoint == other.AuthorizationEndpoint &&
		c.TokenEndpoint == other.TokenEndpoint &&
		c.RegistrationEndpoint == other.RegistrationEndpoint &&
		c.EndSessionEndpoint == other.EndSessionEndpoint &&
		c.DeviceAuthorizationEndpoint == other.DeviceAuthorizationEndpoint &&
		c.RevocationEndpoint == other.RevocationEndpoint &&
		c.UserInfoEndpoint == other.UserInfoEndpoint &&
		c.JWKSEndpoint == other.JWKSEndpoint
}

// ParseServiceConfiguration restores a configuration from its JSON form.
func ParseServiceConfiguration(data []byte) (*ServiceConfiguration, error) {
	var cfg ServiceConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding service configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

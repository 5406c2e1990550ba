// Package providers carries ready-made service configurations for widely
// used authorization servers whose endpoints are stable and publicly
// documented. Providers that publish a discovery document are better served
// by Service.FetchServiceConfiguration; the presets here cover servers that
// either have no discovery document or are commonly used without one.
package providers

import (
	"context"

	"github.com/oakauth/oauthclient"
)

// Google returns the configuration for Google's OAuth 2.0 / OpenID Connect
// endpoints. Google also serves a discovery document at
// https://accounts.google.com, so Discover is equivalent; the preset avoids
// the extra round trip.
func Google() *oauthclient.ServiceConfiguration {
	return &oauthclient.ServiceConfiguration{
		AuthorizationEndpoint:       "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:               "https://oauth2.googleapis.com/token",
		DeviceAuthorizationEndpoint: "https://oauth2.googleapis.com/device/code",
		RevocationEndpoint:          "https://oauth2.googleapis.com/revoke",
		UserInfoEndpoint:            "https://openidconnect.googleapis.com/v1/userinfo",
		JWKSEndpoint:                "https://www.googleapis.com/oauth2/v3/certs",
	}
}

// GitHub returns the configuration for GitHub's OAuth endpoints. GitHub does
// not serve an OpenID Connect discovery document and issues no ID tokens.
func GitHub() *oauthclient.ServiceConfiguration {
	return &oauthclient.ServiceConfiguration{
		AuthorizationEndpoint:       "https://github.com/login/oauth/authorize",
		TokenEndpoint:               "https://github.com/login/oauth/access_token",
		DeviceAuthorizationEndpoint: "https://github.com/login/device/code",
		UserInfoEndpoint:            "https://api.github.com/user",
	}
}

// Discover fetches the issuer's discovery document through the given
// service. It is a convenience alias for Service.FetchServiceConfiguration
// so provider selection code can treat presets and discovered providers
// uniformly.
func Discover(ctx context.Context, service *oauthclient.Service, issuer string) (*oauthclient.ServiceConfiguration, error) {
	return service.FetchServiceConfiguration(ctx, issuer)
}

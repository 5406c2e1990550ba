package providers

import (
	"strings"
	"testing"

	"github.com/oakauth/oauthclient"
)

func TestPresetsValidate(t *testing.T) {
	tests := []struct {
		name   string
		config *oauthclient.ServiceConfiguration
	}{
		{name: "google", config: Google()},
		{name: "github", config: GitHub()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.config.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !strings.HasPrefix(tc.config.AuthorizationEndpoint, "https://") {
				t.Errorf("AuthorizationEndpoint = %q", tc.config.AuthorizationEndpoint)
			}
			if !strings.HasPrefix(tc.config.TokenEndpoint, "https://") {
				t.Errorf("TokenEndpoint = %q", tc.config.TokenEndpoint)
			}
			if tc.config.DeviceAuthorizationEndpoint == "" {
				t.Error("device authorization endpoint missing")
			}
		})
	}
}

func TestPresetsReturnFreshValues(t *testing.T) {
	a, b := Google(), Google()
	if a == b {
		t.Fatal("presets must not share a single instance")
	}
	a.TokenEndpoint = "https://tampered.example/token"
	if !b.Equal(Google()) {
		t.Error("mutating one preset value affected later calls")
	}
}

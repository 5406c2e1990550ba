package oauthclient

import (
	"encoding/json"
	"errors"
	"testing"
)

func validMetadataJSON() map[string]any {
	return map[string]any{
		"issuer":                                "https://issuer.example",
		"authorization_endpoint":                "https://issuer.example/authorize",
		"token_endpoint":                        "https://issuer.example/token",
		"jwks_uri":                              "https://issuer.example/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
}

func marshalMetadata(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	return data
}

func TestParseProviderMetadata(t *testing.T) {
	metadata, err := ParseProviderMetadata(marshalMetadata(t, validMetadataJSON()))
	if err != nil {
		t.Fatalf("ParseProviderMetadata: %v", err)
	}
	if metadata.Issuer != "https://issuer.example" {
		t.Errorf("Issuer = %q", metadata.Issuer)
	}
	if metadata.AuthorizationEndpoint != "https://issuer.example/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", metadata.AuthorizationEndpoint)
	}
	if metadata.JWKSURI != "https://issuer.example/jwks" {
		t.Errorf("JWKSURI = %q", metadata.JWKSURI)
	}
}

func TestParseProviderMetadataMissingMandatoryField(t *testing.T) {
	// Drop one mandatory field at a time; the reported field must name
	// exactly the absent one.
	for _, field := range []string{
		"issuer",
		"authorization_endpoint",
		"jwks_uri",
		"response_types_supported",
		"subject_types_supported",
		"id_token_signing_alg_values_supported",
	} {
		t.Run(field, func(t *testing.T) {
			doc := validMetadataJSON()
			delete(doc, field)

			_, err := ParseProviderMetadata(marshalMetadata(t, doc))
			if err == nil {
				t.Fatal("expected error")
			}
			var missing *MissingFieldError
			if !errors.As(err, &missing) {
				t.Fatalf("error %v is not a MissingFieldError", err)
			}
			if missing.Field != field {
				t.Errorf("Field = %q, want %q", missing.Field, field)
			}
		})
	}
}

func TestParseProviderMetadataMalformedJSON(t *testing.T) {
	_, err := ParseProviderMetadata([]byte("{not json"))
	if !errors.Is(err, ErrJSONDeserialization) {
		t.Errorf("got %v, want ErrJSONDeserialization", err)
	}
}

func TestProviderMetadataPreservesUnknownKeys(t *testing.T) {
	doc := validMetadataJSON()
	doc["acr_values_supported"] = []any{"urn:mace:incommon:iap:silver"}
	doc["vendor_extension"] = "custom"

	metadata, err := ParseProviderMetadata(marshalMetadata(t, doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if metadata.Extra["vendor_extension"] != "custom" {
		t.Errorf("unknown key not captured: %v", metadata.Extra)
	}

	out, err := json.Marshal(metadata)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if round["vendor_extension"] != "custom" {
		t.Error("unknown key lost in round trip")
	}
	if round["issuer"] != "https://issuer.example" {
		t.Error("known key lost in round trip")
	}
}

func TestServiceConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfiguration
		wantErr bool
	}{
		{
			name: "valid",
			cfg: ServiceConfiguration{
				AuthorizationEndpoint: "https://issuer.example/authorize",
				TokenEndpoint:         "https://issuer.example/token",
			},
		},
		{
			name:    "missing authorization endpoint",
			cfg:     ServiceConfiguration{TokenEndpoint: "https://issuer.example/token"},
			wantErr: true,
		},
		{
			name:    "missing token endpoint",
			cfg:     ServiceConfiguration{AuthorizationEndpoint: "https://issuer.example/authorize"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServiceConfigurationFromMetadata(t *testing.T) {
	metadata, err := ParseProviderMetadata(marshalMetadata(t, validMetadataJSON()))
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}

	cfg, err := NewServiceConfigurationFromMetadata(metadata)
	if err != nil {
		t.Fatalf("NewServiceConfigurationFromMetadata: %v", err)
	}
	if cfg.AuthorizationEndpoint != metadata.AuthorizationEndpoint {
		t.Errorf("AuthorizationEndpoint = %q", cfg.AuthorizationEndpoint)
	}
	if cfg.TokenEndpoint != metadata.TokenEndpoint {
		t.Errorf("TokenEndpoint = %q", cfg.TokenEndpoint)
	}
	if cfg.Metadata == nil {
		t.Error("raw metadata not retained")
	}
}

func TestServiceConfigurationEqual(t *testing.T) {
	a := &ServiceConfiguration{
		AuthorizationEndpoint: "https://issuer.example/authorize",
		TokenEndpoint:         "https://issuer.example/token",
	}
	b := &ServiceConfiguration{
		AuthorizationEndpoint: "https://issuer.example/authorize",
		TokenEndpoint:         "https://issuer.example/token",
	}
	if !a.Equal(b) {
		t.Error("identical endpoint sets reported unequal")
	}

	b.TokenEndpoint = "https://other.example/token"
	if a.Equal(b) {
		t.Error("different endpoint sets reported equal")
	}
	if a.Equal(nil) {
		t.Error("nil comparison reported equal")
	}
}

func TestServiceConfigurationJSONRoundTrip(t *testing.T) {
	original := &ServiceConfiguration{
		AuthorizationEndpoint:       "https://issuer.example/authorize",
		TokenEndpoint:               "https://issuer.example/token",
		RegistrationEndpoint:        "https://issuer.example/register",
		EndSessionEndpoint:          "https://issuer.example/logout",
		DeviceAuthorizationEndpoint: "https://issuer.example/device",
		RevocationEndpoint:          "https://issuer.example/revoke",
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := ParseServiceConfiguration(data)
	if err != nil {
		t.Fatalf("ParseServiceConfiguration: %v", err)
	}
	if !original.Equal(restored) {
		t.Errorf("round trip changed configuration: %+v", restored)
	}
}

package oauthclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same canonical instance",
			err:    ErrTokenInvalidGrant,
			target: ErrTokenInvalidGrant,
			want:   true,
		},
		{
			name:   "decorated instance matches canonical",
			err:    ErrTokenInvalidGrant.WithDescription("refresh token revoked"),
			target: ErrTokenInvalidGrant,
			want:   true,
		},
		{
			name:   "wrapped cause still matches",
			err:    fmt.Errorf("performing request: %w", ErrNetwork.WithCause(errors.New("dial timeout"))),
			target: ErrNetwork,
			want:   true,
		},
		{
			name:   "different code does not match",
			err:    ErrTokenInvalidGrant,
			target: ErrTokenInvalidScope,
			want:   false,
		},
		{
			name:   "same code different type does not match",
			err:    ErrAuthorizationInvalidRequest,
			target: ErrTokenInvalidRequest,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorDecoratorsDoNotMutateCanonical(t *testing.T) {
	before := *ErrTokenInvalidGrant

	decorated := ErrTokenInvalidGrant.WithDescription("something specific")
	withCause := ErrTokenInvalidGrant.WithCause(errors.New("underlying"))

	if *ErrTokenInvalidGrant != before {
		t.Fatal("canonical instance was mutated")
	}
	if decorated == ErrTokenInvalidGrant || withCause == ErrTokenInvalidGrant {
		t.Fatal("decorator returned the canonical instance instead of a copy")
	}
	if decorated.Description != "something specific" {
		t.Errorf("Description = %q", decorated.Description)
	}
	if withCause.Unwrap() == nil {
		t.Error("cause not attached")
	}
}

func TestErrorJSONRoundTrip(t *testing.T) {
	original := ErrTokenInvalidGrant.WithDescription("expired").WithCause(errors.New("not serialized"))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored Error
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if restored.Type != original.Type || restored.Code != original.Code {
		t.Errorf("identity not preserved: got (%v, %d)", restored.Type, restored.Code)
	}
	if restored.OAuthCode != "invalid_grant" {
		t.Errorf("OAuthCode = %q", restored.OAuthCode)
	}
	if restored.Description != "expired" {
		t.Errorf("Description = %q", restored.Description)
	}
	if restored.Unwrap() != nil {
		t.Error("cause should not survive serialization")
	}
	if !errors.Is(&restored, ErrTokenInvalidGrant) {
		t.Error("restored error no longer matches its canonical instance")
	}
}

func TestTokenErrorForOAuthCode(t *testing.T) {
	tests := []struct {
		code string
		want *Error
	}{
		{code: "invalid_request", want: ErrTokenInvalidRequest},
		{code: "invalid_client", want: ErrTokenInvalidClient},
		{code: "invalid_grant", want: ErrTokenInvalidGrant},
		{code: "unauthorized_client", want: ErrTokenUnauthorizedClient},
		{code: "unsupported_grant_type", want: ErrTokenUnsupportedGrantType},
		{code: "invalid_scope", want: ErrTokenInvalidScope},
		{code: "authorization_pending", want: ErrTokenAuthorizationPending},
		{code: "slow_down", want: ErrTokenSlowDown},
		{code: "expired_token", want: ErrTokenExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := TokenErrorForOAuthCode(tt.code)
			if !errors.Is(got, tt.want) {
				t.Errorf("TokenErrorForOAuthCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	t.Run("unknown code falls back", func(t *testing.T) {
		got := TokenErrorForOAuthCode("some_vendor_extension")
		if !errors.Is(got, ErrTokenOther) {
			t.Errorf("unknown code mapped to %v", got)
		}
		if got.OAuthCode != "some_vendor_extension" {
			t.Errorf("wire code not retained: %q", got.OAuthCode)
		}
	})
}

func TestErrorFromQuery(t *testing.T) {
	values := url.Values{}
	values.Set("error", "access_denied")
	values.Set("error_description", "user said no")
	values.Set("error_uri", "https://issuer.example/errors/denied")

	got := errorFromQuery(values)
	if !errors.Is(got, ErrAuthorizationAccessDenied) {
		t.Fatalf("got %v", got)
	}
	if got.Description != "user said no" {
		t.Errorf("Description = %q", got.Description)
	}
	if got.URI != "https://issuer.example/errors/denied" {
		t.Errorf("URI = %q", got.URI)
	}
}

func TestMissingFieldError(t *testing.T) {
	err := fmt.Errorf("validating: %w", &MissingFieldError{Field: "jwks_uri"})

	if !errors.Is(err, &MissingFieldError{Field: "jwks_uri"}) {
		t.Error("exact field match failed")
	}
	if !errors.Is(err, &MissingFieldError{}) {
		t.Error("category match failed")
	}
	if errors.Is(err, &MissingFieldError{Field: "issuer"}) {
		t.Error("different field should not match")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and description",
			err:  ErrTokenInvalidGrant.WithDescription("refresh token expired"),
			want: "token error: invalid_grant: refresh token expired",
		},
		{
			name: "code only",
			err:  ErrTokenInvalidGrant,
			want: "token error: invalid_grant",
		},
		{
			name: "description only",
			err:  ErrStateMismatch,
			want: "authorization error: state mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

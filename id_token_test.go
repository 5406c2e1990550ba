package oauthclient

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oakauth/oauthclient/internal/testutil"
)

// signIDToken builds a compact serialization with the none algorithm; the
// validator never inspects the signature.
func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return raw
}

func validIDTokenClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://issuer.example",
		"sub":   "user-1",
		"aud":   "client-1",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nonce": "expected-nonce",
	}
}

func codeExchangeRequest(t *testing.T, nonce string) *TokenRequest {
	t.Helper()
	b := NewTokenRequestBuilder(testConfig(t), "client-1", GrantTypeAuthorizationCode).
		SetAuthorizationCode("code-1").
		SetRedirectURI("app:/callback")
	if nonce != "" {
		b = b.SetNonce(nonce)
	}
	req, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return req
}

func TestParseIDToken(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	claims := validIDTokenClaims(now)
	claims["azp"] = "client-1"
	claims["email"] = "user@example.com"

	token, err := ParseIDToken(signIDToken(t, claims))
	if err != nil {
		t.Fatalf("ParseIDToken: %v", err)
	}

	if token.Issuer != "https://issuer.example" || token.Subject != "user-1" {
		t.Errorf("token fields: %+v", token)
	}
	if len(token.Audience) != 1 || token.Audience[0] != "client-1" {
		t.Errorf("Audience = %v", token.Audience)
	}
	if !token.Expiration.Equal(now.Add(time.Hour)) || !token.IssuedAt.Equal(now) {
		t.Errorf("timestamps: exp=%v iat=%v", token.Expiration, token.IssuedAt)
	}
	if token.Nonce != "expected-nonce" || token.AuthorizedParty != "client-1" {
		t.Errorf("nonce/azp: %+v", token)
	}
	if token.AdditionalClaims["email"] != "user@example.com" {
		t.Errorf("AdditionalClaims = %v", token.AdditionalClaims)
	}
	if _, ok := token.AdditionalClaims["iss"]; ok {
		t.Error("registered claim leaked into AdditionalClaims")
	}
}

func TestParseIDTokenMalformed(t *testing.T) {
	_, err := ParseIDToken("not.a.jwt")
	if !errors.Is(err, ErrIDTokenParsing) {
		t.Errorf("error = %v, want ErrIDTokenParsing", err)
	}
}

func TestIDTokenValidate(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewClock(now)

	tests := []struct {
		name    string
		mutate  func(claims jwt.MapClaims)
		nonce   string
		opts    IDTokenValidationOptions
		wantErr *Error
	}{
		{
			name:   "valid",
			mutate: func(jwt.MapClaims) {},
			nonce:  "expected-nonce",
		},
		{
			name:    "missing issuer",
			mutate:  func(c jwt.MapClaims) { delete(c, "iss") },
			wantErr: ErrIDTokenIssuerMissing,
		},
		{
			name:    "plain http issuer",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "http://issuer.example" },
			wantErr: ErrIDTokenIssuerInvalid,
		},
		{
			name:    "issuer with query",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "https://issuer.example?tenant=a" },
			wantErr: ErrIDTokenIssuerInvalid,
		},
		{
			name:    "issuer without host",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "https://" },
			wantErr: ErrIDTokenIssuerInvalid,
		},
		{
			name:   "bad issuer skipped",
			mutate: func(c jwt.MapClaims) { c["iss"] = "http://issuer.example" },
			opts:   IDTokenValidationOptions{SkipIssuerCheck: true},
		},
		{
			name:    "audience mismatch",
			mutate:  func(c jwt.MapClaims) { c["aud"] = "someone-else" },
			wantErr: ErrIDTokenAudienceMismatch,
		},
		{
			name: "audience mismatch rescued by azp",
			mutate: func(c jwt.MapClaims) {
				c["aud"] = []string{"someone-else"}
				c["azp"] = "client-1"
			},
		},
		{
			name:   "audience list containing client",
			mutate: func(c jwt.MapClaims) { c["aud"] = []string{"other", "client-1"} },
		},
		{
			name:    "expired",
			mutate:  func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Second).Unix() },
			wantErr: ErrIDTokenExpired,
		},
		{
			name:    "missing exp",
			mutate:  func(c jwt.MapClaims) { delete(c, "exp") },
			wantErr: ErrIDTokenExpired,
		},
		{
			name:    "issued too far in the past",
			mutate:  func(c jwt.MapClaims) { c["iat"] = now.Add(-11 * time.Minute).Unix() },
			wantErr: ErrIDTokenIssuedAtTooOld,
		},
		{
			name:   "issued just inside the window",
			mutate: func(c jwt.MapClaims) { c["iat"] = now.Add(-10 * time.Minute).Unix() },
		},
		{
			name:    "missing iat",
			mutate:  func(c jwt.MapClaims) { delete(c, "iat") },
			wantErr: ErrIDTokenIssuedAtTooOld,
		},
		{
			name:    "nonce mismatch",
			mutate:  func(c jwt.MapClaims) { c["nonce"] = "tampered" },
			nonce:   "expected-nonce",
			wantErr: ErrIDTokenNonceMismatch,
		},
		{
			name:   "nonce mismatch skipped",
			mutate: func(c jwt.MapClaims) { c["nonce"] = "tampered" },
			nonce:  "expected-nonce",
			opts:   IDTokenValidationOptions{SkipNonceCheck: true},
		},
		{
			name:   "request without nonce accepts any token nonce",
			mutate: func(c jwt.MapClaims) { c["nonce"] = "whatever" },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validIDTokenClaims(now)
			tc.mutate(claims)

			token, err := ParseIDToken(signIDToken(t, claims))
			if err != nil {
				t.Fatalf("ParseIDToken: %v", err)
			}

			err = token.Validate(codeExchangeRequest(t, tc.nonce), clock, tc.opts)
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestIDTokenValidateRefreshGrantSkipsNonce(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	claims := validIDTokenClaims(now)
	claims["nonce"] = "rotated"

	token, err := ParseIDToken(signIDToken(t, claims))
	if err != nil {
		t.Fatalf("ParseIDToken: %v", err)
	}

	// Nonce comparison only applies to the code exchange; a refreshed ID
	// token carries whatever the server minted.
	if err := token.Validate(refreshRequest(t), testutil.NewClock(now), IDTokenValidationOptions{}); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

package oauthclient

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxIDTokenIssuedAtAge bounds how far in the past an ID token's iat claim
// may lie, guarding against replay of stale tokens.
const maxIDTokenIssuedAtAge = 10 * time.Minute

// IDToken is a decoded OpenID Connect ID token. The signature is not
// verified here; trust derives from the token having arrived over TLS
// directly from the token endpoint, as the OpenID Connect Core flow
// permits for the code flow.
type IDToken struct {
	// Raw is the compact serialization the token was decoded from.
	Raw string

	Issuer          string
	Subject         string
	Audience        []string
	Expiration      time.Time
	IssuedAt        time.Time
	Nonce           string
	AuthorizedParty string

	// AdditionalClaims holds every claim beyond the ones above.
	AdditionalClaims map[string]any
}

var idTokenRegisteredClaims = map[string]bool{
	"iss":   true,
	"sub":   true,
	"aud":   true,
	"exp":   true,
	"iat":   true,
	"nonce": true,
	"azp":   true,
}

// ParseIDToken decodes the claims of a compact-serialized ID token without
// verifying its signature.
func ParseIDToken(raw string) (*IDToken, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, ErrIDTokenParsing.WithCause(err)
	}

	token := &IDToken{Raw: raw}
	if iss, err := claims.GetIssuer(); err == nil {
		token.Issuer = iss
	}
	if sub, err := claims.GetSubject(); err == nil {
		token.Subject = sub
	}
	if aud, err := claims.GetAudience(); err == nil {
		token.Audience = []string(aud)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		token.Expiration = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		token.IssuedAt = iat.Time
	}
	if nonce, ok := claims["nonce"].(string); ok {
		token.Nonce = nonce
	}
	if azp, ok := claims["azp"].(string); ok {
		token.AuthorizedParty = azp
	}

	extras := make(map[string]any)
	for key, value := range claims {
		if idTokenRegisteredClaims[key] {
			continue
		}
		extras[key] = value
	}
	if len(extras) > 0 {
		token.AdditionalClaims = extras
	}
	return token, nil
}

// IDTokenValidationOptions relax individual validation rules for providers
// that deviate from the OpenID Connect Core requirements.
type IDTokenValidationOptions struct {
	// SkipIssuerCheck disables the issuer URL shape checks, for test
	// setups that issue from plain-HTTP or pathological issuers.
	SkipIssuerCheck bool

	// SkipNonceCheck disables nonce comparison.
	SkipNonceCheck bool
}

// Validate checks the token against the request that produced it: issuer
// shape, audience, expiry, issued-at freshness and nonce, in that order.
// The first failing rule is returned.
func (t *IDToken) Validate(req *TokenRequest, clock Clock, opts IDTokenValidationOptions) error {
	if req == nil {
		return fmt.Errorf("token request must not be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}

	if !opts.SkipIssuerCheck {
		if t.Issuer == "" {
			return ErrIDTokenIssuerMissing
		}
		issuer, err := url.Parse(t.Issuer)
		if err != nil {
			return ErrIDTokenIssuerInvalid.WithCause(err)
		}
		if issuer.Scheme != "https" || issuer.Host == "" || issuer.RawQuery != "" || issuer.Fragment != "" {
			return ErrIDTokenIssuerInvalid
		}
	}

	if !slices.Contains(t.Audience, req.ClientID) && t.AuthorizedParty != req.ClientID {
		return ErrIDTokenAudienceMismatch
	}

	now := clock.Now()
	if t.Expiration.IsZero() || !now.Before(t.Expiration) {
		return ErrIDTokenExpired
	}
	if t.IssuedAt.IsZero() || now.Sub(t.IssuedAt) > maxIDTokenIssuedAtAge {
		return ErrIDTokenIssuedAtTooOld
	}

	if !opts.SkipNonceCheck && req.GrantType == GrantTypeAuthorizationCode {
		if req.Nonce != "" && t.Nonce != req.Nonce {
			return ErrIDTokenNonceMismatch
		}
	}
	return nil
}

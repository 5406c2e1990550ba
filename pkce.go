package oauthclient

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Proof Key for Code Exchange (RFC 7636) constants.
const (
	// CodeChallengeMethodS256 derives the challenge as
	// BASE64URL-ENCODE(SHA256(ASCII(code_verifier))).
	CodeChallengeMethodS256 = "S256"

	// CodeChallengeMethodPlain uses the verifier itself as the challenge.
	// Only used when a caller supplies it explicitly.
	CodeChallengeMethodPlain = "plain"

	// MinCodeVerifierLength and MaxCodeVerifierLength bound the verifier
	// character count per RFC 7636 section 4.1.
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128

	// defaultCodeVerifierEntropy is the number of random bytes drawn for a
	// generated verifier. 64 bytes encode to 86 characters, comfortably
	// inside the permitted range.
	defaultCodeVerifierEntropy = 64
)

const codeVerifierCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GenerateCodeVerifier produces a high-entropy code verifier from
// crypto/rand using the default entropy.
func GenerateCodeVerifier() string {
	verifier, err := GenerateCodeVerifierWithEntropy(defaultCodeVerifierEntropy)
	if err != nil {
		// crypto/rand failure means the platform's entropy source is
		// broken; continuing without PKCE would be silently insecure.
		panic(fmt.Sprintf("oauthclient: unable to generate code verifier: %v", err))
	}
	return verifier
}

// GenerateCodeVerifierWithEntropy produces a code verifier from the given
// number of random bytes. The entropy must produce a verifier within the
// RFC-mandated [43,128] character range; base64url encoding expands n bytes
// to ceil(4n/3) characters, so entropy must lie in [32,96].
func GenerateCodeVerifierWithEntropy(entropyBytes int) (string, error) {
	if entropyBytes < 32 || entropyBytes > 96 {
		return "", fmt.Errorf("code verifier entropy must be in [32,96] bytes, got %d", entropyBytes)
	}
	random := make([]byte, entropyBytes)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(random), nil
}

// CheckCodeVerifier validates that a caller-supplied verifier satisfies the
// RFC 7636 length and character set constraints.
func CheckCodeVerifier(verifier string) error {
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code verifier must be at least %d characters, got %d", MinCodeVerifierLength, len(verifier))
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code verifier must be at most %d characters, got %d", MaxCodeVerifierLength, len(verifier))
	}
	for i := 0; i < len(verifier); i++ {
		if !strings.ContainsRune(codeVerifierCharset, rune(verifier[i])) {
			return fmt.Errorf("code verifier contains illegal character %q at position %d", verifier[i], i)
		}
	}
	return nil
}

// S256Challenge derives the S256 code challenge for a verifier. The result
// is base64url encoded without padding.
func S256Challenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

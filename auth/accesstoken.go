package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// trustedPublisherPrefix marks a short-lived Trusted Publishing access
// token. It overlaps with no long-lived API token shape: those never
// contain an underscore, so the two are unambiguous on sight, mirroring
// original_source's crates_io_trustpub::access_token::AccessToken.
const trustedPublisherPrefix = "cio_tp_"

const accessTokenRawLength = 31

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateAccessToken mints a new random Trusted Publishing access token.
// The returned string is shown to the caller exactly once; only its SHA-256
// hash (via HashAccessToken) is ever persisted.
func GenerateAccessToken() (string, error) {
	raw := make([]byte, accessTokenRawLength)
	buf := make([]byte, accessTokenRawLength)
	if _, err := rand.Read(buf); err != nil {
		return "", Error.Wrap(fmt.Errorf("generate access token: %w", err))
	}
	for i, b := range buf {
		raw[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return trustedPublisherPrefix + string(raw), nil
}

// HashAccessToken returns the hex-encoded SHA-256 digest of a plaintext
// access token, for storage and lookup.
func HashAccessToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IsAccessToken reports whether a bearer token should be treated as a
// Trusted Publishing access token rather than a long-lived API token.
func IsAccessToken(token string) bool {
	return strings.HasPrefix(token, trustedPublisherPrefix)
}

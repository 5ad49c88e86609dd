package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// NewRefreshSecret returns a random URL-safe refresh token value.
func NewRefreshSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the hex SHA-256 digest stored in place of the raw token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual compares a presented token against a stored digest in constant time.
func RefreshTokenHashEqual(presented, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(presented)), []byte(storedHash)) == 1
}

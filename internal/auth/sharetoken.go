package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// HashShareToken returns the hex SHA-256 digest stored for a share token.
// Only the hash is persisted; the raw token lives in the share link.
func HashShareToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateShareToken produces a fresh opaque share token.
func GenerateShareToken() string {
	return uuid.NewString()
}

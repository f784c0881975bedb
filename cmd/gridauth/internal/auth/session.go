package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RefreshTokenLength is the length of generated refresh tokens in bytes
const RefreshTokenLength = 32

// GenerateRefreshToken generates a cryptographically secure opaque refresh token.
// Returns: token (hex string), token hash (SHA256 hex), error
//
// Only the hash is stored; the token itself is handed to the client once.
func GenerateRefreshToken() (string, string, error) {
	tokenBytes := make([]byte, RefreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken hashes a refresh token for storage/lookup
// Returns SHA256 hex hash
func HashRefreshToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// RefreshTokenExpiry calculates expiry from issuance time
func RefreshTokenExpiry(issuedAt time.Time, ttl time.Duration) time.Time {
	return issuedAt.Add(ttl)
}

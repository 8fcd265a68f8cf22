package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a generated token (256 bits)
const tokenBytes = 32

// NewToken generates a cryptographically random bearer token.
// The value is 64 lowercase hex characters and is returned to the caller
// exactly once; only its hash is ever persisted.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the lowercase hex SHA-256 of a token plaintext.
// This is the only form a token takes in the truth store.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings without leaking match position
// through timing. Used for the bootstrap token check.
func ConstantTimeEquals(a, b string) bool {
	// Compare fixed-length digests so length differences leak nothing.
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

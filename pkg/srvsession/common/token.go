package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// MinTokenLength is the shortest shared token, in bytes, a client or server accepts.
const MinTokenLength = 16

// ValidateToken rejects tokens shorter than MinTokenLength.
func ValidateToken(token []byte) error {
	if len(token) < MinTokenLength {
		return fmt.Errorf("token too short: %d bytes, need at least %d", len(token), MinTokenLength)
	}
	return nil
}

// GenerateToken returns a random hex token of n bytes of entropy.
func GenerateToken(n int) (string, error) {
	if n < MinTokenLength {
		n = MinTokenLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

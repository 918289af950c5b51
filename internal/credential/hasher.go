// Package credential derives and verifies salted password hashes.
//
// Hash and salt are returned as separate values because the credential
// store keeps them in separate fields; the encoding is plain base64
// rather than a PHC string.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	memory      = 64 * 1024
	iterations  = 2
	parallelism = 1
	keyLength   = 32
	saltLength  = 32 // 256 bits
)

// Hash derives an argon2id hash from the password and a fresh random
// salt. Both return values are base64 (RawStdEncoding) strings.
func Hash(password string) (hash, salt string, err error) {
	if password == "" {
		return "", "", fmt.Errorf("password is empty")
	}
	rawSalt, err := newSalt()
	if err != nil {
		return "", "", err
	}
	key := argon2.IDKey([]byte(password), rawSalt, iterations, memory, parallelism, keyLength)
	return base64.RawStdEncoding.EncodeToString(key),
		base64.RawStdEncoding.EncodeToString(rawSalt),
		nil
}

func newSalt() ([]byte, error) {
	raw := make([]byte, saltLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return raw, nil
}

// Verify recomputes the digest for the candidate password and compares
// it against the stored hash in constant time. Malformed inputs and
// length mismatches report false; Verify never returns an error.
func Verify(password, hash, salt string) bool {
	rawHash, err := base64.RawStdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), rawSalt, iterations, memory, parallelism, keyLength)
	// ConstantTimeCompare reports 0 on length mismatch without
	// inspecting content.
	return subtle.ConstantTimeCompare(rawHash, key) == 1
}

// Package crypto provides admin token generation and argon2id hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("crypto: malformed token hash")

const (
	saltLen  = 16
	keyLen   = 32
	argonT   = 1
	argonMem = 64 * 1024
	argonP   = 4
)

// GenerateToken generates a random token string (32 bytes, hex-like).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token with Argon2id and a fresh random salt.
// The result has the form "<salt>$<key>", both base64 (raw, std alphabet).
func HashToken(token string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := deriveKey(token, salt)
	enc := base64.RawStdEncoding
	return enc.EncodeToString(salt) + "$" + enc.EncodeToString(key), nil
}

// VerifyToken reports whether token matches a hash produced by HashToken.
func VerifyToken(token, hash string) (bool, error) {
	saltPart, keyPart, ok := strings.Cut(hash, "$")
	if !ok {
		return false, ErrMalformedHash
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	want, err := enc.DecodeString(keyPart)
	if err != nil {
		return false, fmt.Errorf("%w: key: %w", ErrMalformedHash, err)
	}
	got := deriveKey(token, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func deriveKey(token string, salt []byte) []byte {
	return argon2.IDKey([]byte(token), salt, argonT, argonMem, argonP, keyLen)
}

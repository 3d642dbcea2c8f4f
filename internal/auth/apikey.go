// Package auth generates and verifies service API keys. Keys are random
// tokens; only their argon2id hashes are kept in configuration.
package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	apiKeySecretLength = 48
	apiKeyPrefix       = "bk-"
	alphabet           = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

// GenerateAPIKey returns a new random key and its encoded hash. The key is
// shown once to the operator; the hash goes into configuration.
func GenerateAPIKey() (string, string, error) {
	secret, err := randomString(apiKeySecretLength)
	if err != nil {
		return "", "", err
	}
	key := apiKeyPrefix + secret
	hash, err := HashKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// HashKey returns an encoded argon2id hash for the supplied key.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key required")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, b64Salt, b64Hash)
	return encoded, nil
}

// VerifyKey compares a key against an encoded hash string.
func VerifyKey(key string, encoded string) (bool, error) {
	if key == "" || encoded == "" {
		return false, errors.New("key and hash required")
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return false, errors.New("invalid hash format")
	}

	var memory uint32
	var time uint32
	var threads uint8
	_, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &time, &threads)
	if err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	calculated := argon2.IDKey([]byte(key), salt, time, memory, threads, uint32(len(expected)))
	if bytes.Equal(calculated, expected) {
		return true, nil
	}
	return false, nil
}

// Verifier checks presented keys against a configured set of hashes.
type Verifier struct {
	hashes []string
}

// NewVerifier builds a verifier over the configured encoded hashes. An empty
// set disables authentication.
func NewVerifier(hashes []string) *Verifier {
	clean := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if trimmed := strings.TrimSpace(h); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return &Verifier{hashes: clean}
}

// Enabled reports whether any keys are configured.
func (v *Verifier) Enabled() bool { return len(v.hashes) > 0 }

// Verify reports whether the presented key matches any configured hash.
func (v *Verifier) Verify(key string) bool {
	for _, h := range v.hashes {
		ok, err := VerifyKey(key, h)
		if err == nil && ok {
			return true
		}
	}
	return false
}

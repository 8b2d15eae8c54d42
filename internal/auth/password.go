package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	passwordScheme = "argon2id"

	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLen      = 32
	argonSaltLen     = 16
)

// dummyPasswordHash is verified against when the email is unknown, so a miss
// costs the same argon2 work as a wrong password.
var dummyPasswordHash = passwordScheme + "$" + strings.Repeat("A", 22) + "$" + strings.Repeat("A", 43)

// HashPassword derives an argon2id hash encoded as "argon2id$<salt>$<key>".
// A fresh salt is drawn for every call.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is required")
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return strings.Join([]string{
		passwordScheme,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// VerifyPassword reports whether password matches encoded. Malformed encodings
// never match.
func VerifyPassword(password, encoded string) bool {
	if password == "" {
		return false
	}
	salt, want, ok := decodePasswordHash(encoded)
	if !ok {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodePasswordHash(encoded string) (salt, key []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != passwordScheme {
		return nil, nil, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return nil, nil, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(key) != argonKeyLen {
		return nil, nil, false
	}
	return salt, key, true
}

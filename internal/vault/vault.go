// Package vault seals per-workspace secrets with AES-256-GCM under an
// operator supplied master key.
//
// Envelopes have the form enc:v1:<iv>:<tag>:<ciphertext>, each part standard
// base64. The nonce is 12 random bytes per seal and the tag 16 bytes.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"goyais.org/hub/internal/apierr"
)

const (
	KeySize = 32

	envelopePrefix = "enc"
	envelopeV1     = "v1"
	ivSize         = 12
	tagSize        = 16

	// MasterKeyConfigKey names the environment variable carrying the master key.
	MasterKeyConfigKey = "HUB_SECRET_KEY"
)

// Vault encrypts and decrypts secret envelopes.
type Vault struct {
	aead cipher.AEAD
}

// ParseMasterKey decodes a base64 master key. Anything other than exactly 32
// decoded bytes is a configuration error.
func ParseMasterKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apierr.Config("Secret master key is not configured.", MasterKeyConfigKey, map[string]any{
			"expected": fmt.Sprintf("base64 encoded %d-byte key", KeySize),
		})
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, apierr.Config("Secret master key is not valid base64.", MasterKeyConfigKey, map[string]any{
			"expected": fmt.Sprintf("base64 encoded %d-byte key", KeySize),
		})
	}
	if len(key) != KeySize {
		return nil, apierr.Config("Secret master key must decode to 32 bytes.", MasterKeyConfigKey, map[string]any{
			"expected":     KeySize,
			"actual_bytes": len(key),
		})
	}
	return key, nil
}

// New builds a Vault from a base64 master key.
func New(rawKey string) (*Vault, error) {
	key, err := ParseMasterKey(rawKey)
	if err != nil {
		return nil, err
	}
	return newFromKey(key)
}

func newFromKey(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierr.Internal("secret_cipher", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, apierr.Internal("secret_cipher", err)
	}
	return &Vault{aead: aead}, nil
}

// GenerateKey returns a fresh base64 master key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext into a v1 envelope.
func (v *Vault) Seal(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apierr.Internal("secret_nonce", err)
	}
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	ct, tag := sealed[:split], sealed[split:]
	return strings.Join([]string{
		envelopePrefix,
		envelopeV1,
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Open decrypts a v1 envelope.
func (v *Vault) Open(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) < 2 || parts[0] != envelopePrefix || parts[1] != envelopeV1 {
		return "", apierr.New(apierr.CodeInternal, "Secret payload version is not supported.",
			apierr.WithCause("secret_payload_version"))
	}
	if len(parts) != 5 {
		return "", apierr.New(apierr.CodeInternal, "Secret payload is malformed.",
			apierr.WithCause("secret_payload_parts"))
	}
	iv, errIV := base64.StdEncoding.DecodeString(parts[2])
	tag, errTag := base64.StdEncoding.DecodeString(parts[3])
	ct, errCT := base64.StdEncoding.DecodeString(parts[4])
	if errIV != nil || errTag != nil || errCT != nil || len(iv) != ivSize || len(tag) != tagSize {
		return "", decryptFailed(nil)
	}
	plain, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", decryptFailed(err)
	}
	return string(plain), nil
}

// Encrypt seals plaintext with a base64 master key.
func Encrypt(plaintext, rawKey string) (string, error) {
	v, err := New(rawKey)
	if err != nil {
		return "", err
	}
	return v.Seal(plaintext)
}

// Decrypt opens an envelope with a base64 master key.
func Decrypt(envelope, rawKey string) (string, error) {
	v, err := New(rawKey)
	if err != nil {
		return "", err
	}
	return v.Open(envelope)
}

func decryptFailed(err error) error {
	return apierr.New(apierr.CodeInternal, "Secret payload could not be decrypted.",
		apierr.WithCause("secret_payload_decrypt"), apierr.WithErr(err))
}

// Package credentials resolves stored integration credentials into the
// plaintext form transport adapters consume. Secrets at rest are sealed in
// an envelope; resolution walks a credential map and opens every sealed
// leaf.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// envelopePrefix marks a sealed credential value. The payload after the
// prefix is base64(nonce || ciphertext).
const envelopePrefix = "enc:v1:"

var (
	// ErrDecrypt is returned when a sealed credential cannot be opened
	ErrDecrypt = errors.New("credential decryption failed")

	// ErrNoKey is returned when a sealed credential is encountered but no
	// decryption key is configured
	ErrNoKey = errors.New("no credential decryption key configured")
)

// IsEncrypted reports whether a value carries the credential envelope.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

// Resolver opens sealed credential values.
type Resolver interface {
	// Resolve returns a copy of the credential map with every sealed leaf
	// replaced by its plaintext. Unsealed values pass through untouched.
	Resolve(creds map[string]interface{}) (map[string]interface{}, error)
}

// AESResolver seals and opens credentials with AES-GCM.
type AESResolver struct {
	aead cipher.AEAD
}

// NewAESResolver creates a resolver from a 16, 24 or 32 byte key.
func NewAESResolver(key []byte) (*AESResolver, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESResolver{aead: aead}, nil
}

// Seal encrypts a plaintext value into the envelope form.
func (r *AESResolver) Seal(plaintext string) (string, error) {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := r.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts one envelope value.
func (r *AESResolver) Open(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < r.aead.NonceSize() {
		return "", fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}

	nonce, ciphertext := raw[:r.aead.NonceSize()], raw[r.aead.NonceSize():]
	plaintext, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// Resolve opens every sealed string leaf in the credential map, including
// nested objects such as auth blocks.
func (r *AESResolver) Resolve(creds map[string]interface{}) (map[string]interface{}, error) {
	return resolveMap(creds, r.Open)
}

// PassthroughResolver performs no decryption. It is the development
// posture: plaintext credentials pass through, sealed ones are an error
// rather than silently handed to an adapter.
type PassthroughResolver struct{}

// Resolve returns the map unchanged unless it contains sealed values.
func (PassthroughResolver) Resolve(creds map[string]interface{}) (map[string]interface{}, error) {
	return resolveMap(creds, func(value string) (string, error) {
		if IsEncrypted(value) {
			return "", ErrNoKey
		}
		return value, nil
	})
}

func resolveMap(creds map[string]interface{}, open func(string) (string, error)) (map[string]interface{}, error) {
	if creds == nil {
		return nil, nil
	}

	resolved := make(map[string]interface{}, len(creds))
	for key, value := range creds {
		switch v := value.(type) {
		case string:
			plain, err := open(v)
			if err != nil {
				return nil, fmt.Errorf("credential %q: %w", key, err)
			}
			resolved[key] = plain
		case map[string]interface{}:
			nested, err := resolveMap(v, open)
			if err != nil {
				return nil, err
			}
			resolved[key] = nested
		default:
			resolved[key] = value
		}
	}
	return resolved, nil
}

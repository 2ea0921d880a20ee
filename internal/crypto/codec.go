// Package crypto provides the at-rest codec for stored conversation text.
// It is a pass-through boundary service: the stores call it on the way in
// and out, and nothing else in the system knows fields are encrypted.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCiphertext is returned when stored data cannot be authenticated or
// decoded. The underlying cryptographic error is never exposed.
var ErrCiphertext = errors.New("crypto: invalid ciphertext")

// Codec encrypts and decrypts text fields with XChaCha20-Poly1305.
// Construct it once in main and inject it; there is no package-level
// instance.
type Codec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewCodec creates a codec from a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto.NewCodec: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce and returns a base64url
// string. Empty input passes through unchanged: an absent value stays
// absent in storage.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto.Codec.Encrypt: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input passes through unchanged.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto.Codec.Decrypt: %w", ErrCiphertext)
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("crypto.Codec.Decrypt: %w", ErrCiphertext)
	}

	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto.Codec.Decrypt: %w", ErrCiphertext)
	}

	return string(plaintext), nil
}

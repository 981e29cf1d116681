// Package security seals credential secrets before they reach the store.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"ilpsdk/pkg/errors"
)

// ErrCiphertext is returned when sealed data cannot be opened.
var ErrCiphertext = errors.New("invalid or tampered ciphertext")

// Sealer encrypts data with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a hex encoded 32-byte key.
func NewSealer(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil || len(key) != 32 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "encryption key must be 32 hex encoded bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a random nonce and returns base64 of nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrCiphertext
	}
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plaintext, nil
}

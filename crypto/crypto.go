// Package crypto seals secrets that are persisted inside the bot state document,
// primarily the Twitch app access token. It uses AES-256-GCM and tags sealed
// values with a version prefix so plaintext values written by older releases
// (or by hand) are still readable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a value produced by AESSealer.Seal.
const SealedPrefix = "enc:v1:"

// Sealer converts secrets to and from their at-rest representation.
type Sealer interface {
	// Seal returns the at-rest form of plaintext. Empty input stays empty.
	Seal(plaintext string) (string, error)
	// Open reverses Seal. Values without SealedPrefix are returned unchanged.
	Open(stored string) (string, error)
}

// AESSealer implements Sealer with AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer creates a sealer from a base64-encoded 32-byte key
// (generate one with `openssl rand -base64 32`).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext as SealedPrefix + base64(nonce || ciphertext || tag).
// A fresh random nonce is used for every call, so sealing the same value twice
// yields different output.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *AESSealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(raw))
	}
	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		// don't leak details of the GCM failure
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plaintext), nil
}

// IsSealed reports whether stored carries the sealed prefix.
func IsSealed(stored string) bool { return strings.HasPrefix(stored, SealedPrefix) }

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SealedPrefix marks an encrypted value: SEALED:base64(nonce|ciphertext|tag).
	SealedPrefix = "SEALED:"

	// saltKey holds the per-store PBKDF2 salt.
	saltKey = "_sealSalt"

	keySize  = 32
	saltSize = 32

	// PBKDF2Iterations follows OWASP 2023 guidance for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

// iterations is lowered by tests.
var iterations = PBKDF2Iterations

// ErrUnsealFailed is returned when a sealed value cannot be decrypted,
// usually because the passphrase changed.
var ErrUnsealFailed = errors.New("unseal failed: wrong key or tampered value")

// SealedStore encrypts the configured keys before handing them to the
// wrapped store. Other keys pass through unchanged.
type SealedStore struct {
	inner  Store
	aead   cipher.AEAD
	sealed map[string]bool
}

// NewSealedStore derives an AES-256-GCM key from passphrase and a salt kept
// in the inner store, creating the salt on first use.
func NewSealedStore(inner Store, passphrase string, keys ...string) (*SealedStore, error) {
	if passphrase == "" {
		return nil, errors.New("sealed store: empty passphrase")
	}
	salt, err := loadSalt(inner)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed store: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed store: %w", err)
	}

	sealed := make(map[string]bool, len(keys))
	for _, k := range keys {
		sealed[k] = true
	}
	return &SealedStore{inner: inner, aead: aead, sealed: sealed}, nil
}

func loadSalt(inner Store) ([]byte, error) {
	encoded, err := inner.Get(saltKey)
	if err == nil {
		salt, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, fmt.Errorf("sealed store: corrupt salt: %w", decErr)
		}
		return salt, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("sealed store: salt: %w", err)
	}
	if err := inner.Set(saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// Get implements Store.
func (s *SealedStore) Get(key string) (string, error) {
	v, err := s.inner.Get(key)
	if err != nil || !s.sealed[key] {
		return v, err
	}
	// Values written before sealing was enabled are returned as-is.
	raw, ok := strings.CutPrefix(v, SealedPrefix)
	if !ok {
		return v, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrUnsealFailed
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return "", ErrUnsealFailed
	}
	plain, err := s.aead.Open(nil, data[:ns], data[ns:], []byte(key))
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}

// Set implements Store.
func (s *SealedStore) Set(key, value string) error {
	if !s.sealed[key] {
		return s.inner.Set(key, value)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("sealed store: nonce: %w", err)
	}
	// The key is bound as associated data so values cannot be swapped
	// between keys.
	ct := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.Set(key, SealedPrefix+base64.StdEncoding.EncodeToString(ct))
}

// Delete implements Store.
func (s *SealedStore) Delete(key string) error {
	return s.inner.Delete(key)
}

// Close implements Store.
func (s *SealedStore) Close() error {
	return s.inner.Close()
}

// Unwrap returns the wrapped store.
func (s *SealedStore) Unwrap() Store {
	return s.inner
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
)

// Fixed keys shared with the browser client's local storage layout.
const (
	KeyAuthToken     = "authToken"
	KeyConversations = "conversations"
	KeyCurrentChat   = "currentChatId"
)

// Store is a durable string key-value store.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(key string) (string, error)
	Set(key, value string) error
	// Delete is a no-op for absent keys.
	Delete(key string) error
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned by Get for absent keys.
// Use errors.Is(err, ErrNotFound) to check for it.
var ErrNotFound = &KeyError{Message: "key not found"}

// KeyError is a storage error tied to a key.
type KeyError struct {
	Key     string
	Message string
}

func (e *KeyError) Error() string {
	if e.Key == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// Is matches any KeyError with the same message, so a keyed not-found
// error still satisfies errors.Is(err, ErrNotFound).
func (e *KeyError) Is(target error) bool {
	t, ok := target.(*KeyError)
	return ok && t.Message == e.Message
}

func notFound(key string) error {
	return &KeyError{Key: key, Message: ErrNotFound.Message}
}

// =============================================================================
// OPEN
// =============================================================================

// Options selects and configures a backend.
type Options struct {
	Backend string // "file" or "sqlite"
	Dir     string

	// SealKey, when set, seals KeyAuthToken at rest.
	SealKey string
}

// File names inside Options.Dir.
const (
	FileStoreName   = "store.json"
	SQLiteStoreName = "store.db"
)

// Open builds the store described by opts.
func Open(opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case "", "file":
		s, err = NewFileStore(filepath.Join(opts.Dir, FileStoreName))
	case "sqlite":
		s, err = NewSQLiteStore(filepath.Join(opts.Dir, SQLiteStoreName))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if opts.SealKey == "" {
		return s, nil
	}
	sealed, err := NewSealedStore(s, opts.SealKey, KeyAuthToken)
	if err != nil {
		s.Close()
		return nil, err
	}
	return sealed, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jeranaias/agrochat/internal/util"
)

// FileStore keeps every key in one JSON object on disk. Each write rewrites
// the file atomically, so another process never reads a torn document.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// NewFileStore opens or creates the store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the file, picking up changes written by other processes.
// The lock is held across the read so a concurrent Set is never replaced by
// older disk contents.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := readValues(s.path)
	if err != nil {
		return err
	}
	s.values = values
	return nil
}

func readValues(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", path, err)
	}
	return values, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", notFound(key)
	}
	return v, nil
}

// Set implements Store.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flushLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.flushLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	return util.AtomicWriteFile(s.path, data, 0600, 0700)
}

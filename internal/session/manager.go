// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/storage"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the authentication state.
type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// ExpiredNotice is shown when the backend rejects the stored credential.
const ExpiredNotice = "Session expired. Please log in again."

// =============================================================================
// DEPENDENCIES
// =============================================================================

// TokenStore persists the token. storage.Store satisfies it.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Verifier resolves a token to an identity. api.Client satisfies it.
type Verifier interface {
	CurrentUser(ctx context.Context, token string) (*api.User, error)
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	Status   Status
	User     *api.User
	HasToken bool
	Loading  bool
}

// Authenticated reports whether the snapshot is usable for requests.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager tracks the session for the lifetime of the process.
type Manager struct {
	mu sync.Mutex

	store    TokenStore
	verifier Verifier

	token   string
	user    *api.User
	status  Status
	loading int
	gen     uint64

	onChange  []func(Snapshot)
	onExpired []func(reason string)
}

// NewManager creates a manager and loads any stored token. Status starts
// unknown until CheckAuth runs.
func NewManager(store TokenStore, verifier Verifier) *Manager {
	m := &Manager{
		store:    store,
		verifier: verifier,
		status:   StatusUnknown,
	}
	tok, err := store.Get(storage.KeyAuthToken)
	switch {
	case err == nil:
		m.token = tok
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("could not read stored token", "err", err)
	}
	return m
}

// OnChange registers fn to run after every state change. Callbacks run
// outside the lock, on the goroutine that made the change.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnExpired registers fn to run when the backend rejects the credential.
func (m *Manager) OnExpired(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = append(m.onExpired, fn)
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	var u *api.User
	if m.user != nil {
		cp := *m.user
		u = &cp
	}
	return Snapshot{
		Status:   m.status,
		User:     u,
		HasToken: m.token != "",
		Loading:  m.loading > 0,
	}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// User returns a copy of the validated identity, or nil.
func (m *Manager) User() *api.User {
	return m.Snapshot().User
}

// Loading reports whether a CheckAuth is in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading > 0
}

// Authenticated reports whether the last validation succeeded.
func (m *Manager) Authenticated() bool {
	return m.Snapshot().Authenticated()
}

// Token returns the stored token, validated or not.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Credential returns the token for an authenticated request, or
// api.ErrNoCredential when the session is not authenticated.
func (m *Manager) Credential() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusAuthenticated || m.token == "" {
		return "", api.ErrNoCredential
	}
	return m.token, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// CheckAuth validates the stored token with the backend and returns the
// resulting status. It never fails: any error leaves the session
// unauthenticated. A 401 also forgets the stored token; a network failure
// keeps it for the next attempt.
func (m *Manager) CheckAuth(ctx context.Context) Status {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	token := m.token
	m.loading++
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	var (
		user *api.User
		err  error
	)
	if token == "" {
		err = api.ErrNoCredential
	} else {
		user, err = m.verifier.CurrentUser(ctx, token)
		if err == nil && !user.Valid() {
			err = &api.Error{Kind: api.KindSessionExpired, Op: "users/me", Detail: "identity record has no id"}
		}
	}

	m.mu.Lock()
	m.loading--
	superseded := gen != m.gen
	if !superseded {
		if err == nil {
			m.status = StatusAuthenticated
			m.user = user
		} else {
			m.status = StatusUnauthenticated
			m.user = nil
			if api.IsSessionExpired(err) && m.token == token {
				m.token = ""
				m.deleteStoredLocked()
			}
		}
	}
	status := m.status
	snap = m.snapshotLocked()
	m.mu.Unlock()

	switch {
	case superseded:
		logger.Debug("auth check superseded", "generation", gen)
	case err == nil:
		logger.Info("session validated", "user", user.Username)
	case api.IsAuth(err):
		logger.Debug("no stored credential")
	case api.IsSessionExpired(err):
		logger.Info("stored credential rejected", "err", err)
	default:
		logger.Warn("auth check failed", "err", err)
	}

	m.notify(snap)
	return status
}

// Login stores token and validates it with the backend. The returned error
// is only a storage failure; a rejected token yields
// StatusUnauthenticated.
func (m *Manager) Login(ctx context.Context, token string) (Status, error) {
	m.mu.Lock()
	if err := m.store.Set(storage.KeyAuthToken, token); err != nil {
		m.mu.Unlock()
		return m.Status(), fmt.Errorf("failed to store token: %w", err)
	}
	m.token = token
	m.gen++
	m.mu.Unlock()

	return m.CheckAuth(ctx), nil
}

// Logout forgets the token and identity. No request is sent.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.gen++
	m.token = ""
	m.user = nil
	m.status = StatusUnauthenticated
	m.deleteStoredLocked()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	logger.Info("logged out")
	m.notify(snap)
}

// Invalidate is a forced logout after the backend rejected the credential.
func (m *Manager) Invalidate(reason string) {
	m.Logout()
	if reason == "" {
		reason = ExpiredNotice
	}

	m.mu.Lock()
	handlers := append([]func(string){}, m.onExpired...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(reason)
	}
}

func (m *Manager) deleteStoredLocked() {
	if err := m.store.Delete(storage.KeyAuthToken); err != nil {
		logger.Warn("could not delete stored token", "err", err)
	}
}

func (m *Manager) notify(s Snapshot) {
	m.mu.Lock()
	handlers := append([]func(Snapshot){}, m.onChange...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/storage"
)

// =============================================================================
// FAKES
// =============================================================================

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *memStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// verifierFunc adapts a function to Verifier.
type verifierFunc func(ctx context.Context, token string) (*api.User, error)

func (f verifierFunc) CurrentUser(ctx context.Context, token string) (*api.User, error) {
	return f(ctx, token)
}

func userFor(token string) verifierFunc {
	return func(ctx context.Context, got string) (*api.User, error) {
		if got != token {
			return nil, &api.Error{Kind: api.KindSessionExpired, Status: 401}
		}
		return &api.User{ID: "1", Username: "ana"}, nil
	}
}

// =============================================================================
// CHECK AUTH
// =============================================================================

func TestNewManager_StartsUnknown(t *testing.T) {
	m := NewManager(newMemStore(), userFor("tok"))
	assert.Equal(t, StatusUnknown, m.Status())
	assert.Nil(t, m.User())
}

func TestCheckAuth_ValidToken(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")
	m := NewManager(store, userFor("tok"))

	assert.Equal(t, StatusAuthenticated, m.CheckAuth(context.Background()))
	require.NotNil(t, m.User())
	assert.Equal(t, "ana", m.User().Username)

	tok, err := m.Credential()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestCheckAuth_NoTokenSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(newMemStore(), verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		calls.Add(1)
		return nil, nil
	}))

	assert.Equal(t, StatusUnauthenticated, m.CheckAuth(context.Background()))
	assert.Zero(t, calls.Load())
}

func TestCheckAuth_RejectedTokenIsForgotten(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "stale")
	m := NewManager(store, userFor("tok"))

	assert.Equal(t, StatusUnauthenticated, m.CheckAuth(context.Background()))
	assert.Nil(t, m.User())
	assert.Empty(t, m.Token())
	_, err := store.Get(storage.KeyAuthToken)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCheckAuth_NetworkFailureKeepsToken(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")
	m := NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		return nil, &api.Error{Kind: api.KindNetwork, Cause: errors.New("connection refused")}
	}))

	assert.Equal(t, StatusUnauthenticated, m.CheckAuth(context.Background()))
	assert.Equal(t, "tok", m.Token())
	_, err := m.Credential()
	assert.True(t, api.IsAuth(err))
}

func TestCheckAuth_IdentityWithoutID(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")
	m := NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		return &api.User{Username: "ghost"}, nil
	}))

	assert.Equal(t, StatusUnauthenticated, m.CheckAuth(context.Background()))
	assert.Nil(t, m.User())
}

func TestCheckAuth_LoadingFlag(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")

	entered := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		close(entered)
		<-release
		return &api.User{ID: "1"}, nil
	}))

	var seen []bool
	var mu sync.Mutex
	m.OnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Loading)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.CheckAuth(context.Background())
		close(done)
	}()

	<-entered
	assert.True(t, m.Loading())
	close(release)
	<-done
	assert.False(t, m.Loading())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestCheckAuth_LastStartedWins(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")

	slowEntered := make(chan struct{})
	releaseSlow := make(chan struct{})
	var calls atomic.Int32
	m := NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		if calls.Add(1) == 1 {
			close(slowEntered)
			<-releaseSlow
			return &api.User{ID: "old", Username: "old"}, nil
		}
		return &api.User{ID: "new", Username: "new"}, nil
	}))

	slowDone := make(chan struct{})
	go func() {
		m.CheckAuth(context.Background())
		close(slowDone)
	}()
	<-slowEntered

	m.CheckAuth(context.Background())
	close(releaseSlow)
	<-slowDone

	require.NotNil(t, m.User())
	assert.Equal(t, "new", m.User().Username, "the older check must not overwrite the newer result")
	assert.False(t, m.Loading())
}

func TestCheckAuth_LogoutDuringCheckStaysLoggedOut(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "tok")

	entered := make(chan struct{})
	release := make(chan struct{})
	m := NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		close(entered)
		<-release
		return &api.User{ID: "1"}, nil
	}))

	done := make(chan Status)
	go func() { done <- m.CheckAuth(context.Background()) }()
	<-entered
	m.Logout()
	close(release)

	assert.Equal(t, StatusUnauthenticated, <-done)
	assert.Nil(t, m.User())
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func TestLogin_PersistsThenValidates(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, userFor("good"))

	status, err := m.Login(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, status)
	v, _ := store.Get(storage.KeyAuthToken)
	assert.Equal(t, "good", v)
}

func TestLogin_ServerDecides(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, userFor("good"))

	status, err := m.Login(context.Background(), "forged")
	require.NoError(t, err)
	assert.Equal(t, StatusUnauthenticated, status)
	_, getErr := store.Get(storage.KeyAuthToken)
	assert.True(t, errors.Is(getErr, storage.ErrNotFound), "rejected token is not kept")
}

func TestLogout_IsSynchronous(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, userFor("tok"))
	_, err := m.Login(context.Background(), "tok")
	require.NoError(t, err)

	m.Logout()
	snap := m.Snapshot()
	assert.Equal(t, StatusUnauthenticated, snap.Status)
	assert.Nil(t, snap.User)
	assert.False(t, snap.HasToken)
	_, getErr := store.Get(storage.KeyAuthToken)
	assert.True(t, errors.Is(getErr, storage.ErrNotFound))
}

func TestInvalidate_NotifiesExpired(t *testing.T) {
	m := NewManager(newMemStore(), userFor("tok"))
	_, err := m.Login(context.Background(), "tok")
	require.NoError(t, err)

	var reason string
	m.OnExpired(func(r string) { reason = r })
	m.Invalidate("")

	assert.Equal(t, ExpiredNotice, reason)
	assert.Equal(t, StatusUnauthenticated, m.Status())
	_, credErr := m.Credential()
	assert.ErrorIs(t, credErr, api.ErrNoCredential)
}

// =============================================================================
// CLAIMS
// =============================================================================

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ana",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-key"))
	require.NoError(t, err)

	c, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, "ana", c.Subject)
	assert.True(t, c.ExpiresAt.Equal(exp))
	assert.False(t, c.Expired(time.Now()))
	assert.True(t, c.Expired(exp.Add(time.Minute)))
}

func TestClaims_NotAJWT(t *testing.T) {
	store := newMemStore()
	store.Set(storage.KeyAuthToken, "opaque-token")
	m := NewManager(store, userFor("opaque-token"))

	_, err := m.Claims()
	assert.Error(t, err)

	m.Logout()
	_, err = m.Claims()
	assert.ErrorIs(t, err, ErrNoToken)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires configuration, storage, the backend client, the session
// and the conversation book into one value shared by the CLI and the TUI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/config"
	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
	"github.com/jeranaias/agrochat/internal/storage"
)

// ErrWatchUnsupported is returned by Watch for stores that cannot be
// watched for outside edits.
var ErrWatchUnsupported = errors.New("store does not support change notifications")

// App holds the long-lived components.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Client   *api.Client
	Session  *session.Manager
	Book     *conversation.Book
	Pipeline *pipeline.Pipeline
}

// ClientConfig maps the backend section onto client options.
func ClientConfig(cfg *config.Config) api.Config {
	return api.Config{
		BaseURL:           cfg.Backend.URL,
		Timeout:           cfg.Backend.Timeout(),
		StreamIdleTimeout: cfg.Backend.StreamIdleTimeout(),
		MaxRetries:        cfg.Backend.MaxRetries,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
	}
}

// New opens the store and builds every component. The session starts in
// the unknown state; call CheckAuth before relying on it.
func New(cfg *config.Config) (*App, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	opts := storage.Options{Backend: cfg.Storage.Backend, Dir: dir}
	if cfg.Storage.SealToken {
		opts.SealKey = cfg.Storage.Key
	}
	store, err := storage.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	book, err := conversation.Open(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	client := api.NewClient(ClientConfig(cfg))
	sess := session.NewManager(store, client)

	logger.Debug("app ready", "backend", client.BaseURL(), "store", cfg.Storage.Backend, "conversations", book.Len())
	return &App{
		Config:   cfg,
		Store:    store,
		Client:   client,
		Session:  sess,
		Book:     book,
		Pipeline: pipeline.New(book, sess, client),
	}, nil
}

// Close cancels any send in flight and closes the store.
func (a *App) Close() error {
	a.Pipeline.Cancel()
	return a.Store.Close()
}

// LoginWithPassword exchanges credentials for a token and hands it to the
// session. The returned status is authenticated unless the backend rejects
// the fresh token.
func (a *App) LoginWithPassword(ctx context.Context, username, password string) (session.Status, error) {
	tok, err := a.Client.Login(ctx, username, password)
	if err != nil {
		return a.Session.Status(), err
	}
	return a.Session.Login(ctx, tok.AccessToken)
}

// Register creates an account and logs into it.
func (a *App) Register(ctx context.Context, req api.RegisterRequest) (session.Status, error) {
	if err := a.Client.Register(ctx, req); err != nil {
		return a.Session.Status(), err
	}
	return a.LoginWithPassword(ctx, req.Username, req.Password)
}

// Profile fetches the profile with the session credential. A 401
// invalidates the session.
func (a *App) Profile(ctx context.Context) (*api.Profile, error) {
	token, err := a.Session.Credential()
	if err != nil {
		return nil, err
	}
	p, err := a.Client.Profile(ctx, token)
	return p, a.expireOn401(err)
}

// UpdateProfile applies u with the session credential.
func (a *App) UpdateProfile(ctx context.Context, u api.ProfileUpdate) (*api.Profile, error) {
	token, err := a.Session.Credential()
	if err != nil {
		return nil, err
	}
	p, err := a.Client.UpdateProfile(ctx, token, u)
	return p, a.expireOn401(err)
}

func (a *App) expireOn401(err error) error {
	if api.IsSessionExpired(err) {
		a.Session.Invalidate("")
	}
	return err
}

// Watch calls onChange after another process rewrites the store, once the
// book has been reloaded from it. Only the file store can be watched. It
// blocks until ctx is done.
func (a *App) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	s := a.Store
	if sealed, ok := s.(*storage.SealedStore); ok {
		s = sealed.Unwrap()
	}
	fs, ok := s.(*storage.FileStore)
	if !ok {
		return ErrWatchUnsupported
	}
	return fs.Watch(ctx, debounce, func() {
		if a.Pipeline.Busy() {
			// The in-flight send will persist over the outside edit.
			logger.Debug("store changed during a send, skipping reload")
			return
		}
		if err := a.Book.Reload(); err != nil {
			logger.Warn("could not reload conversations", "err", err)
			return
		}
		if onChange != nil {
			onChange()
		}
	})
}

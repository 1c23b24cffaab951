// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read from its own token. The signature is
// not checked; the backend remains the only authority on validity.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is in the past.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ErrNoToken is returned by Claims when no token is stored.
var ErrNoToken = errors.New("no token stored")

// Claims decodes the stored token's payload.
func (m *Manager) Claims() (Claims, error) {
	token := m.Token()
	if token == "" {
		return Claims{}, ErrNoToken
	}
	return ParseClaims(token)
}

// ParseClaims decodes a JWT payload without verifying it.
func ParseClaims(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("token is not a readable JWT: %w", err)
	}
	c := Claims{Subject: rc.Subject}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	errUsernameTaken = errors.New("username already registered")
	errBadLogin      = errors.New("incorrect username or password")
)

// user is an account record. Passwords are kept as bcrypt hashes.
type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	hash     []byte
}

// profile mirrors the backend's farmer profile.
type profile struct {
	UserID    int64           `json:"user_id"`
	Nombre    string          `json:"nombre"`
	Cultivo   string          `json:"cultivo"`
	Region    string          `json:"region"`
	ExtraJSON json.RawMessage `json:"extra_json,omitempty"`
}

// directory holds accounts and profiles in memory.
type directory struct {
	mu       sync.RWMutex
	nextID   int64
	byName   map[string]*user
	byID     map[int64]*user
	profiles map[int64]*profile
	cost     int
}

func newDirectory(cost int) *directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &directory{
		nextID:   1,
		byName:   make(map[string]*user),
		byID:     make(map[int64]*user),
		profiles: make(map[int64]*profile),
		cost:     cost,
	}
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// register creates an account and an empty profile.
func (d *directory) register(username, email, password string) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, err
	}

	key := normalizeUsername(username)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byName[key]; ok {
		return nil, errUsernameTaken
	}
	u := &user{ID: d.nextID, Username: strings.TrimSpace(username), Email: strings.TrimSpace(email), hash: hash}
	d.nextID++
	d.byName[key] = u
	d.byID[u.ID] = u
	d.profiles[u.ID] = &profile{UserID: u.ID}
	return u, nil
}

// authenticate checks a password. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (d *directory) authenticate(username, password string) (*user, error) {
	d.mu.RLock()
	u, ok := d.byName[normalizeUsername(username)]
	d.mu.RUnlock()
	if !ok {
		return nil, errBadLogin
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return nil, errBadLogin
	}
	return u, nil
}

func (d *directory) user(id int64) (*user, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	return u, ok
}

func (d *directory) profile(id int64) (profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	if !ok {
		return profile{}, false
	}
	return *p, true
}

// profileUpdate carries the fields a client chose to change.
type profileUpdate struct {
	Nombre    *string         `json:"nombre"`
	Cultivo   *string         `json:"cultivo"`
	Region    *string         `json:"region"`
	ExtraJSON json.RawMessage `json:"extra_json"`
}

func (d *directory) updateProfile(id int64, u profileUpdate) (profile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return profile{}, false
	}
	if u.Nombre != nil {
		p.Nombre = strings.TrimSpace(*u.Nombre)
	}
	if u.Cultivo != nil {
		p.Cultivo = strings.TrimSpace(*u.Cultivo)
	}
	if u.Region != nil {
		p.Region = strings.TrimSpace(*u.Region)
	}
	if len(u.ExtraJSON) > 0 && string(u.ExtraJSON) != "null" {
		p.ExtraJSON = append(json.RawMessage(nil), u.ExtraJSON...)
	}
	return *p, true
}

func (d *directory) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ID accepts both JSON numbers and strings, since backends differ.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the ID text.
func (id ID) String() string {
	return string(id)
}

// User is the identity record returned by GET /users/me.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Valid reports whether the record carries an identifier.
func (u *User) Valid() bool {
	return u != nil && strings.TrimSpace(string(u.ID)) != ""
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for an access token. Credentials go as a
// URL-encoded form, which is what the backend's OAuth2 password flow reads.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	const op = "login"
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	var tok Token
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   "/auth/login",
		body:   []byte(form.Encode()),
		ctype:  "application/x-www-form-urlencoded",
	}, &tok)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, &Error{Kind: KindServer, Op: op, Status: http.StatusOK, Detail: "response has no access token"}
	}
	return &tok, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, r RegisterRequest) error {
	body, err := jsonBody(r)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   "/auth/register",
		body:   body,
		ctype:  "application/json",
	}, nil)
}

// CurrentUser validates token against GET /users/me. A record without an
// identifier is reported as an expired session.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	const op = "users/me"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	var u User
	err := c.do(ctx, request{
		op:            op,
		method:        http.MethodGet,
		path:          "/users/me",
		token:         token,
		authenticated: true,
	}, &u)
	if err != nil {
		return nil, err
	}
	if !u.Valid() {
		return nil, &Error{Kind: KindSessionExpired, Op: op, Status: http.StatusOK, Detail: "identity record has no id"}
	}
	return &u, nil
}

// =============================================================================
// PROFILE
// =============================================================================

// Profile is the farmer profile kept by the backend.
type Profile struct {
	UserID    ID              `json:"user_id,omitempty"`
	Nombre    string          `json:"nombre"`
	Cultivo   string          `json:"cultivo"`
	Region    string          `json:"region"`
	ExtraJSON json.RawMessage `json:"extra_json,omitempty"`
}

// ProfileUpdate is the body of PUT /profile/update. Nil fields are omitted.
type ProfileUpdate struct {
	Nombre    *string         `json:"nombre,omitempty"`
	Cultivo   *string         `json:"cultivo,omitempty"`
	Region    *string         `json:"region,omitempty"`
	ExtraJSON json.RawMessage `json:"extra_json,omitempty"`
}

// Profile fetches the profile of the token's user.
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	const op = "profile"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	var p Profile
	err := c.do(ctx, request{
		op:            op,
		method:        http.MethodGet,
		path:          "/profile/",
		token:         token,
		authenticated: true,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile applies u and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, token string, u ProfileUpdate) (*Profile, error) {
	const op = "profile/update"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	body, err := jsonBody(u)
	if err != nil {
		return nil, err
	}
	var p Profile
	err = c.do(ctx, request{
		op:            op,
		method:        http.MethodPut,
		path:          "/profile/update",
		token:         token,
		body:          body,
		ctype:         "application/json",
		authenticated: true,
	}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status is the backend health report.
type Status struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Extra   map[string]interface{} `json:"-"`
}

// UnmarshalJSON keeps unknown fields in Extra.
func (s *Status) UnmarshalJSON(data []byte) error {
	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	if v, ok := all["status"]; ok {
		s.Status = stringify(v)
		delete(all, "status")
	}
	if v, ok := all["version"]; ok {
		s.Version = stringify(v)
		delete(all, "version")
	}
	s.Extra = all
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Status queries GET /status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, request{op: "status", method: http.MethodGet, path: "/status"}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

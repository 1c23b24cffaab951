// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/agrochat/internal/util"
)

// maxDetailRunes caps error details copied from response bodies.
const maxDetailRunes = 500

// Kind categorizes client errors for handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindSessionExpired
	KindServer
	KindStream
	KindNetwork
)

// String returns the error taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindSessionExpired:
		return "SessionExpired"
	case KindServer:
		return "ServerError"
	case KindStream:
		return "StreamError"
	case KindNetwork:
		return "NetworkError"
	default:
		return "UnknownError"
	}
}

// Error is returned by every Client method.
type Error struct {
	Kind Kind

	// Op names the call that failed, e.g. "interpret".
	Op string

	// Status and Detail are set for responses with a non-2xx status.
	Status int
	Detail string

	// Partial holds content streamed before a KindStream failure.
	Partial string

	Cause error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindAuth:
		msg = "not authenticated"
	case KindSessionExpired:
		msg = "session expired"
	case KindServer:
		msg = fmt.Sprintf("server error (HTTP %d)", e.Status)
	case KindStream:
		msg = "stream interrupted"
	case KindNetwork:
		msg = "request failed"
	default:
		msg = "api error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrSessionExpired) match any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Status == 0
}

// Description is the short human-readable form used in chat entries:
// the detail when the server sent one, the full message otherwise.
func (e *Error) Description() string {
	switch {
	case e.Kind == KindServer && e.Detail != "":
		return fmt.Sprintf("%s (HTTP %d)", e.Detail, e.Status)
	case e.Detail != "":
		return e.Detail
	}
	return e.Error()
}

// Sentinel errors for errors.Is checks.
var (
	// ErrNoCredential means a call needed a token and none was available.
	// No request was sent.
	ErrNoCredential = &Error{Kind: KindAuth}

	// ErrSessionExpired means the backend rejected the token with 401.
	ErrSessionExpired = &Error{Kind: KindSessionExpired}

	ErrServer  = &Error{Kind: KindServer}
	ErrStream  = &Error{Kind: KindStream}
	ErrNetwork = &Error{Kind: KindNetwork}
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAuth reports whether err is a missing-credential error.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsSessionExpired reports whether the backend rejected the credential.
func IsSessionExpired(err error) bool { return kindOf(err) == KindSessionExpired }

// IsServer reports whether err carries a non-2xx, non-401 status.
func IsServer(err error) bool { return kindOf(err) == KindServer }

// IsStream reports whether err broke an already accepted stream.
func IsStream(err error) bool { return kindOf(err) == KindStream }

// IsNetwork reports whether err happened before any response arrived.
func IsNetwork(err error) bool { return kindOf(err) == KindNetwork }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

// errorBody is the backend's error envelope. Detail is either a string or a
// list of validation entries.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type validationEntry struct {
	Msg string        `json:"msg"`
	Loc []interface{} `json:"loc"`
}

// parseDetail extracts a readable message from an error body.
func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		return s
	}

	var entries []validationEntry
	if err := json.Unmarshal(eb.Detail, &entries); err == nil {
		msgs := make([]string, 0, len(entries))
		for _, v := range entries {
			if v.Msg != "" {
				msgs = append(msgs, v.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(eb.Detail)
}

// errorFromResponse maps a non-2xx response. A 401 only means an expired
// session on calls that sent a credential; on login it is a plain failure.
func errorFromResponse(op string, status int, body []byte, authenticated bool) error {
	detail := util.TruncateRunes(parseDetail(body), maxDetailRunes)
	if status == http.StatusUnauthorized && authenticated {
		return &Error{Kind: KindSessionExpired, Op: op, Status: status, Detail: detail}
	}
	return &Error{Kind: KindServer, Op: op, Status: status, Detail: detail}
}

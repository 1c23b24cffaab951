// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/config"
	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitServerError  = 6
	ExitNotFound     = 7
	ExitTimeout      = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports bad arguments or flags.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// NewUsageError creates a usage error with an optional example.
func NewUsageError(reason, example string) error {
	return &UsageError{Reason: reason, Example: example}
}

// CommandError wraps a failure with the command that hit it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, Friendly(e.Err))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ExitCode picks the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var validation config.ValidateErrors
	if errors.As(err, &validation) {
		return ExitConfigError
	}
	if errors.Is(err, conversation.ErrConversationNotFound) {
		return ExitNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeout
	}
	if errors.Is(err, session.ErrNoToken) || errors.Is(err, api.ErrNoCredential) {
		return ExitAuthError
	}

	switch {
	case api.IsAuth(err), api.IsSessionExpired(err):
		return ExitAuthError
	case api.IsNetwork(err):
		return ExitNetworkError
	case api.IsServer(err), api.IsStream(err):
		if api.StatusOf(err) == 401 {
			return ExitAuthError
		}
		return ExitServerError
	}
	return ExitGeneralError
}

// Friendly renders err as one line for the terminal.
func Friendly(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		err = cmdErr.Err
	}

	switch {
	case api.IsAuth(err), errors.Is(err, api.ErrNoCredential), errors.Is(err, session.ErrNoToken):
		return "not logged in, run `agrochat login` first"
	case api.IsSessionExpired(err):
		return session.ExpiredNotice
	case pipeline.IsValidation(err):
		return err.Error()
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if apiErr.Kind == api.KindNetwork {
			return "cannot reach the backend: " + apiErr.Description()
		}
		return apiErr.Description()
	}
	return err.Error()
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), Friendly(err))
}

func displayErrorJSON(w io.Writer, err error) {
	output := map[string]interface{}{
		"success":   false,
		"error":     Friendly(err),
		"exit_code": ExitCode(err),
	}

	var apiErr *api.Error
	var usage *UsageError
	switch {
	case errors.As(err, &apiErr):
		output["error_type"] = apiErr.Kind.String()
		if apiErr.Status != 0 {
			output["status"] = apiErr.Status
		}
	case errors.As(err, &usage):
		output["error_type"] = "usage_error"
		if usage.Example != "" {
			output["example"] = usage.Example
		}
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

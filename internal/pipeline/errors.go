// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import "errors"

// ValidationError is a locally detected precondition failure. Callers drop
// it without telling the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	// ErrEmptyInput is returned for blank messages.
	ErrEmptyInput = &ValidationError{Reason: "message is empty"}

	// ErrBusy is returned while another send is in flight.
	ErrBusy = &ValidationError{Reason: "a message is already being sent"}

	// ErrTargetGone is returned when the conversation receiving a reply was
	// deleted or restructured mid-stream.
	ErrTargetGone = &ValidationError{Reason: "conversation no longer holds the reply"}
)

// IsValidation reports whether err should be dropped silently.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

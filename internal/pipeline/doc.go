// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline sends one user message at a time and streams the reply
// into the conversation.
//
// # States
//
//	idle -> sending -> streaming -> finalized -> idle
//	idle -> sending -> failed -> idle
//	idle -> sending -> streaming -> failed -> idle
//
// A Send while another is in flight is rejected with ErrBusy, never queued.
// Every exit path returns the pipeline to idle.
//
// # Failures
//
// Failures after the user message was appended add a separate assistant
// error message; the placeholder is not rewritten. A 401 additionally
// invalidates the session. Input and precondition problems are
// *ValidationError values that the UI drops silently.
package pipeline

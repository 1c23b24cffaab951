// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
)

// PipelineEventMsg carries a pipeline event into the program.
type PipelineEventMsg struct {
	Event pipeline.Event
}

// SendDoneMsg is returned by the send command when Send returns.
type SendDoneMsg struct {
	Result pipeline.Result
	Err    error
}

// SessionMsg reports a session change.
type SessionMsg struct {
	Snapshot session.Snapshot
}

// SessionExpiredMsg reports a forced logout.
type SessionExpiredMsg struct {
	Reason string
}

// BookChangedMsg reports that conversations changed outside a send, for
// example after a reload from disk.
type BookChangedMsg struct{}

// BackendStatusMsg is the result of a status probe.
type BackendStatusMsg struct {
	Status *api.Status
	Err    error
}

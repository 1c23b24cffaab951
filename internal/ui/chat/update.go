// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
	"github.com/jeranaias/agrochat/internal/storage"
)

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// SendCmd runs one send to completion. Progress arrives separately as
// PipelineEventMsg when the program is wired with Run.
func SendCmd(ctx context.Context, p *pipeline.Pipeline, conversationID, text string) tea.Cmd {
	return func() tea.Msg {
		res, err := p.Send(ctx, conversationID, text)
		return SendDoneMsg{Result: res, Err: err}
	}
}

// CheckAuthCmd validates the stored token.
func CheckAuthCmd(ctx context.Context, s *session.Manager) tea.Cmd {
	return func() tea.Msg {
		s.CheckAuth(ctx)
		return SessionMsg{Snapshot: s.Snapshot()}
	}
}

// BackendStatusCmd probes GET /status with a short timeout.
func BackendStatusCmd(ctx context.Context, c *api.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := c.Status(ctx)
		return BackendStatusMsg{Status: st, Err: err}
	}
}

// =============================================================================
// PROGRAM RUNNER
// =============================================================================

// Run starts the program in the alternate screen and forwards pipeline,
// session and store notifications into it until the user quits.
func Run(ctx context.Context, a *app.App, m Model) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m.WithContext(ctx), tea.WithAltScreen(), tea.WithContext(ctx))

	a.Pipeline.OnEvent(func(e pipeline.Event) {
		p.Send(PipelineEventMsg{Event: e})
	})
	a.Session.OnChange(func(s session.Snapshot) {
		p.Send(SessionMsg{Snapshot: s})
	})
	a.Session.OnExpired(func(reason string) {
		p.Send(SessionExpiredMsg{Reason: reason})
	})

	go func() {
		err := a.Watch(ctx, storage.DefaultWatchDebounce, func() {
			p.Send(BookChangedMsg{})
		})
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, app.ErrWatchUnsupported):
			logger.Debug("store is not watched for outside changes")
		default:
			logger.Warn("store watch stopped", "err", err)
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

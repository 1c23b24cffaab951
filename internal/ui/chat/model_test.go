// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/config"
	"github.com/jeranaias/agrochat/internal/devserver"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/ui/styles"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	ds, err := devserver.New(devserver.Config{Secret: "s", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	ts := httptest.NewServer(ds.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Backend.URL = ts.URL
	cfg.Storage.Dir = t.TempDir()
	cfg.UI.RenderMarkdown = false

	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func loggedIn(t *testing.T, a *app.App) {
	t.Helper()
	_, err := a.Register(context.Background(), api.RegisterRequest{
		Username: "ana", Email: "ana@example.com", Password: "secreto1",
	})
	require.NoError(t, err)
}

func newTestModel(t *testing.T, a *app.App) Model {
	t.Helper()
	m := New(a, styles.NewTheme(styles.ModeDark))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func typeAndSubmit(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

// sendResult runs the send command out of a batch and returns its result.
func sendResult(t *testing.T, cmd tea.Cmd) SendDoneMsg {
	t.Helper()
	require.NotNil(t, cmd)
	cmds := []tea.Cmd{cmd}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		cmds = batch
	}
	// SendCmd comes first in the batch.
	msg := cmds[0]()
	done, ok := msg.(SendDoneMsg)
	require.True(t, ok, "expected SendDoneMsg, got %T", msg)
	return done
}

// =============================================================================
// COMMAND PARSING
// =============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArg  string
	}{
		{"/new", "/new", ""},
		{"  /rename  Riego de maíz ", "/rename", "Riego de maíz"},
		{"/DELETE", "/delete", ""},
		{"/list tomate", "/list", "tomate"},
	}

	for _, tt := range tests {
		name, arg := ParseCommand(tt.input)
		if name != tt.wantName || arg != tt.wantArg {
			t.Errorf("ParseCommand(%q) = (%q, %q), want (%q, %q)",
				tt.input, name, arg, tt.wantName, tt.wantArg)
		}
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_FullExchange(t *testing.T) {
	a := newTestApp(t)
	loggedIn(t, a)
	m := newTestModel(t, a)

	m, cmd := typeAndSubmit(m, "Hola")
	assert.True(t, m.sending)
	assert.Empty(t, m.input.Value())

	done := sendResult(t, cmd)
	require.NoError(t, done.Err)

	updated, _ := m.Update(done)
	m = updated.(Model)
	assert.False(t, m.sending)
	assert.Empty(t, m.notice)

	conv, ok := a.Book.Current()
	require.True(t, ok)
	assert.Equal(t, "Hola", conv.Title)
	require.Len(t, conv.Messages, 2)

	out := m.renderConversation(m.viewport.Width)
	assert.Contains(t, out, "Hola")
	assert.Contains(t, out, "Recibí")
}

func TestSubmit_NotLoggedIn(t *testing.T) {
	a := newTestApp(t)
	a.Session.CheckAuth(context.Background())
	m := newTestModel(t, a)
	m.session = a.Session.Snapshot()

	m, cmd := typeAndSubmit(m, "Hola")
	assert.Nil(t, cmd)
	assert.False(t, m.sending)
	assert.Contains(t, m.notice, "Not logged in")
	assert.True(t, m.noticeErr)
	assert.Equal(t, 0, a.Book.Len())
	assert.Equal(t, "Hola", m.input.Value(), "input should be kept for a retry")
}

func TestSubmit_EmptyIsSilent(t *testing.T) {
	a := newTestApp(t)
	loggedIn(t, a)
	m := newTestModel(t, a)

	m, cmd := typeAndSubmit(m, "   ")
	assert.Nil(t, cmd)
	assert.False(t, m.sending)
	assert.Empty(t, m.notice)
}

func TestSubmit_IgnoredWhileSending(t *testing.T) {
	a := newTestApp(t)
	loggedIn(t, a)
	m := newTestModel(t, a)
	m.sending = true

	m, cmd := typeAndSubmit(m, "Hola")
	assert.Nil(t, cmd)
	assert.Equal(t, "Hola", m.input.Value())
}

// =============================================================================
// SEND RESULTS
// =============================================================================

func TestSendDone_Notices(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	tests := []struct {
		name    string
		err     error
		want    string
		wantErr bool
	}{
		{"success", nil, "", false},
		{"busy is silent", pipeline.ErrBusy, "", false},
		{"empty is silent", pipeline.ErrEmptyInput, "", false},
		{"expired waits for its own notice", &api.Error{Kind: api.KindSessionExpired, Status: 401}, "", false},
		{"not logged in", &api.Error{Kind: api.KindAuth}, "Not logged in", true},
		{"server error", &api.Error{Kind: api.KindServer, Status: 500, Detail: "model offline"}, "model offline (HTTP 500)", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.sending = true
			m.clearNotice()
			updated, _ := m.Update(SendDoneMsg{Err: tt.err})
			got := updated.(Model)
			assert.False(t, got.sending)
			if tt.want == "" {
				assert.Empty(t, got.notice)
			} else {
				assert.Contains(t, got.notice, tt.want)
			}
			assert.Equal(t, tt.wantErr, got.noticeErr)
		})
	}
}

func TestSessionExpiredMsg_ShowsNotice(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	updated, _ := m.Update(SessionExpiredMsg{Reason: "Session expired. Please log in again."})
	got := updated.(Model)
	assert.Equal(t, "Session expired. Please log in again.", got.notice)
	assert.True(t, got.noticeErr)
}

func TestPipelineEvent_TracksReply(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	e := pipeline.Event{Kind: pipeline.EventChunk, State: pipeline.StateStreaming}
	e.Handle.MessageID = "msg_1"
	updated, _ := m.Update(PipelineEventMsg{Event: e})
	got := updated.(Model)
	assert.Equal(t, pipeline.StateStreaming, got.phase)
	assert.Equal(t, "msg_1", got.replyID)

	e.Kind = pipeline.EventFinalized
	e.State = pipeline.StateFinalized
	updated, _ = got.Update(PipelineEventMsg{Event: e})
	assert.Empty(t, updated.(Model).replyID)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func TestCommands_RenameAndDelete(t *testing.T) {
	a := newTestApp(t)
	loggedIn(t, a)
	m := newTestModel(t, a)

	_, cmd := typeAndSubmit(m, "Hola")
	done := sendResult(t, cmd)
	require.NoError(t, done.Err)
	updated, _ := m.Update(done)
	m = updated.(Model)

	m, _ = typeAndSubmit(m, "/rename Riego")
	conv, ok := a.Book.Current()
	require.True(t, ok)
	assert.Equal(t, "Riego", conv.Title)
	assert.Equal(t, "Renamed.", m.notice)

	m, _ = typeAndSubmit(m, "/rename   ")
	assert.Contains(t, m.notice, "Usage")

	m, _ = typeAndSubmit(m, "/delete")
	assert.Equal(t, "Chat deleted.", m.notice)
	assert.Equal(t, 0, a.Book.Len())
}

func TestCommands_DeleteRefusedWhileSending(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)
	m.newChat()
	require.Equal(t, 1, a.Book.Len())

	m.sending = true
	m, _ = typeAndSubmit(m, "/delete")
	assert.Equal(t, 1, a.Book.Len())
	assert.Contains(t, m.notice, "Wait")
}

func TestCommands_NewAndCycle(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	m, _ = typeAndSubmit(m, "/new")
	first := a.Book.CurrentID()
	m, _ = typeAndSubmit(m, "/new")
	second := a.Book.CurrentID()
	require.NotEqual(t, first, second)
	assert.Equal(t, 2, a.Book.Len())
	assert.Empty(t, m.notice, "creating a chat reports no error")
	list := a.Book.List("")
	require.Len(t, list, 2)
	assert.True(t, list[0].Current, "the newest chat is current")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	assert.Equal(t, first, a.Book.CurrentID())

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, second, a.Book.CurrentID())
}

func TestCommands_Unknown(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	m, cmd := typeAndSubmit(m, "/plantar")
	assert.Nil(t, cmd)
	assert.Contains(t, m.notice, "Unknown command /plantar")
	assert.Equal(t, 0, a.Book.Len())
}

func TestCommands_Logout(t *testing.T) {
	a := newTestApp(t)
	loggedIn(t, a)
	m := newTestModel(t, a)

	m, _ = typeAndSubmit(m, "/logout")
	assert.False(t, a.Session.Authenticated())
	assert.False(t, m.session.Authenticated())
	assert.Equal(t, "Logged out.", m.notice)
}

func TestCommands_Quit(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	_, cmd := typeAndSubmit(m, "/quit")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

// =============================================================================
// VIEW
// =============================================================================

func TestView_NotReady(t *testing.T) {
	a := newTestApp(t)
	m := New(a, styles.NewTheme(styles.ModeDark))
	assert.Equal(t, "Cargando...", m.View())
}

func TestView_Welcome(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)

	out := m.View()
	assert.Contains(t, out, "agrochat")
	assert.Contains(t, out, "Bienvenido")
	assert.True(t, strings.Contains(out, "ready"))
}

func TestRenderConversation_ErrorMessage(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a)
	m.newChat()
	require.True(t, a.Book.AppendError(a.Book.CurrentID(), "Stream error: model offline (HTTP 500)"))

	out := m.renderConversation(m.viewport.Width)
	assert.Contains(t, out, "model offline")
}

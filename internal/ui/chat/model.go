// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
	"github.com/jeranaias/agrochat/internal/ui/render"
	"github.com/jeranaias/agrochat/internal/ui/styles"
)

// SidebarWidth is the width of the conversation list.
const SidebarWidth = 30

// Model is the chat interface state.
type Model struct {
	app   *app.App
	ctx   context.Context
	theme *styles.Theme
	md    *render.Markdown
	keys  KeyMap

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model

	width, height int
	ready         bool
	showSidebar   bool
	showHelp      bool

	session   session.Snapshot
	sending   bool
	phase     pipeline.State
	replyID   string
	backend   string
	notice    string
	noticeErr bool

	// rendered caches finalized assistant replies by message ID and width.
	rendered map[renderKey]string
}

type renderKey struct {
	id    string
	width int
}

// New creates the chat model.
func New(a *app.App, theme *styles.Theme) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Pregunta sobre tu cultivo..."
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Thinking

	return Model{
		app:         a,
		ctx:         context.Background(),
		theme:       theme,
		md:          render.NewMarkdown(theme.Mode, a.Config.UI.RenderMarkdown),
		keys:        DefaultKeyMap(),
		viewport:    viewport.New(80, 20),
		input:       ti,
		spinner:     sp,
		help:        help.New(),
		showSidebar: true,
		session:     a.Session.Snapshot(),
		rendered:    make(map[renderKey]string),
	}
}

// WithContext sets the context sends run under.
func (m Model) WithContext(ctx context.Context) Model {
	m.ctx = ctx
	return m
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init checks the session and probes the backend.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		CheckAuthCmd(m.ctx, m.app.Session),
		BackendStatusCmd(m.ctx, m.app.Client),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case PipelineEventMsg:
		return m.handleEvent(msg.Event)

	case SendDoneMsg:
		return m.handleSendDone(msg)

	case SessionMsg:
		m.session = msg.Snapshot
		return m, nil

	case SessionExpiredMsg:
		m.setNotice(msg.Reason, true)
		return m, nil

	case BookChangedMsg:
		m.refresh()
		return m, nil

	case BackendStatusMsg:
		if msg.Err != nil {
			m.backend = "offline"
		} else {
			m.backend = msg.Status.Status
		}
		return m, nil

	case spinner.TickMsg:
		if !m.sending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.sending && msg.String() == "ctrl+c" {
			m.app.Pipeline.Cancel()
			return m, nil
		}
		m.app.Pipeline.Cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.sending {
			m.app.Pipeline.Cancel()
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.HasPrefix(strings.TrimSpace(text), "/") {
			m.input.SetValue("")
			return m.runCommand(strings.TrimSpace(text))
		}
		return m.submit(text)

	case key.Matches(msg, m.keys.NewChat):
		m.newChat()
		return m, nil

	case key.Matches(msg, m.keys.NextChat):
		m.cycleChat(1)
		return m, nil

	case key.Matches(msg, m.keys.PrevChat):
		m.cycleChat(-1)
		return m, nil

	case key.Matches(msg, m.keys.ToggleSidebar):
		m.showSidebar = !m.showSidebar
		m.resize(m.width, m.height)
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.resize(m.width, m.height)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a send. Empty input and sends while busy are ignored; a
// missing login is reported without touching the conversation.
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(text) == "" || m.sending {
		return m, nil
	}
	if !m.session.Authenticated() {
		if m.session.Loading {
			m.setNotice("Checking session, try again in a moment.", false)
		} else {
			m.setNotice("Not logged in. Run `agrochat login` first.", true)
		}
		return m, nil
	}

	m.input.SetValue("")
	m.sending = true
	m.phase = pipeline.StateSending
	m.clearNotice()
	return m, tea.Batch(
		SendCmd(m.ctx, m.app.Pipeline, m.app.Book.CurrentID(), text),
		m.spinner.Tick,
	)
}

// =============================================================================
// PIPELINE AND SEND RESULTS
// =============================================================================

func (m Model) handleEvent(e pipeline.Event) (tea.Model, tea.Cmd) {
	m.phase = e.State
	if e.Handle.MessageID != "" {
		m.replyID = e.Handle.MessageID
	}
	switch e.Kind {
	case pipeline.EventFinalized, pipeline.EventFailed:
		m.replyID = ""
	}
	m.refresh()
	return m, nil
}

func (m Model) handleSendDone(msg SendDoneMsg) (tea.Model, tea.Cmd) {
	m.sending = false
	m.phase = pipeline.StateIdle
	m.replyID = ""

	err := msg.Err
	switch {
	case err == nil:
	case pipeline.IsValidation(err):
		// Rejected sends are silent.
	case api.IsAuth(err):
		m.setNotice("Not logged in. Run `agrochat login` first.", true)
	case api.IsSessionExpired(err):
		// The expiry notice arrives separately.
	default:
		m.setNotice(pipeline.Describe(err), true)
	}
	m.refresh()
	return m, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (m *Model) newChat() {
	if _, err := m.app.Book.Create(); err != nil {
		m.setNotice("Could not save the new chat: "+err.Error(), true)
	}
	m.refresh()
}

// cycleChat moves the current pointer through the list, which is newest
// first. Positive steps go to older conversations.
func (m *Model) cycleChat(step int) {
	if m.sending {
		return
	}
	list := m.app.Book.List("")
	if len(list) == 0 {
		return
	}
	idx := 0
	for i, s := range list {
		if s.Current {
			idx = i
			break
		}
	}
	idx = (idx + step + len(list)) % len(list)
	if err := m.app.Book.SetCurrent(list[idx].ID); err != nil {
		m.setNotice(err.Error(), true)
	}
	m.refresh()
}

// =============================================================================
// NOTICES AND LAYOUT
// =============================================================================

func (m *Model) setNotice(text string, isErr bool) {
	m.notice = text
	m.noticeErr = isErr
}

func (m *Model) clearNotice() {
	m.notice = ""
	m.noticeErr = false
}

func (m *Model) sidebarVisible() bool {
	return m.showSidebar && m.theme.GetLayoutMode() == styles.LayoutWide
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.theme.SetSize(width, height)
	m.ready = width > 0 && height > 0

	vpWidth := width
	if m.sidebarVisible() {
		vpWidth -= SidebarWidth + 1
	}
	// Header, input border, input and status bar.
	chrome := 4
	if m.showHelp {
		chrome += 4
	}
	vpHeight := height - chrome
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.input.Width = width - 4
	m.help.Width = width
}

// refresh re-renders the current conversation into the viewport, keeping
// the view pinned to the bottom if it was there.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.renderConversation(m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/agrochat/internal/model"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/session"
	"github.com/jeranaias/agrochat/internal/ui/render"
	"github.com/jeranaias/agrochat/internal/util"
)

// View renders the interface.
func (m Model) View() string {
	if !m.ready {
		return "Cargando..."
	}

	body := m.viewport.View()
	if m.sidebarVisible() {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", body)
	}

	parts := []string{
		m.renderHeader(),
		body,
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
		m.renderStatusBar(),
	}
	if m.showHelp {
		parts = append(parts, m.renderHelp())
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// =============================================================================
// HEADER AND STATUS BAR
// =============================================================================

func (m Model) renderHeader() string {
	title := model.DefaultTitle
	if c, ok := m.app.Book.Current(); ok {
		title = c.DisplayTitle()
	}

	var who string
	switch {
	case m.session.Loading || m.session.Status == session.StatusUnknown:
		who = "checking session"
	case m.session.Authenticated() && m.session.User != nil:
		who = m.session.User.Username
	default:
		who = "not logged in"
	}
	right := who
	if m.backend != "" {
		right += " | backend " + m.backend
	}

	left := m.theme.HeaderTitle.Render("agrochat") + "  " + util.TruncateWidth(title, m.width/2)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + m.theme.HeaderUser.Render(right))
}

func (m Model) renderStatusBar() string {
	var state string
	switch {
	case m.sending && m.phase == pipeline.StateStreaming:
		state = m.spinner.View() + " receiving"
	case m.sending:
		state = m.spinner.View() + " sending"
	default:
		state = m.theme.StatusOK.Render("ready")
	}

	var notice string
	if m.notice != "" {
		style := m.theme.StatusWarn
		if m.noticeErr {
			style = m.theme.StatusError
		}
		notice = "  " + style.Render(m.notice)
	}

	shortcuts := m.help.ShortHelpView(m.keys.ShortHelp())
	left := state + notice
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(shortcuts) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + shortcuts)
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	b.WriteString("\n")
	names := make([]string, 0, len(Commands))
	for _, c := range Commands {
		names = append(names, c.Name)
	}
	b.WriteString(m.theme.Muted.Render("Commands: " + strings.Join(names, " ")))
	return b.String()
}

// =============================================================================
// SIDEBAR
// =============================================================================

func (m Model) renderSidebar() string {
	var lines []string
	for _, s := range m.app.Book.List("") {
		title := util.TruncateWidth(s.Title, SidebarWidth-2)
		if s.Current {
			lines = append(lines, m.theme.ListItemCurrent.Render("> "+title))
		} else {
			lines = append(lines, m.theme.ListItem.Render("  "+title))
		}
		if s.Preview != "" {
			lines = append(lines, m.theme.ListPreview.Render("  "+util.TruncateWidth(s.Preview, SidebarWidth-2)))
		}
		if len(lines) >= m.viewport.Height {
			break
		}
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.Muted.Render("No chats yet"))
	}
	return m.theme.Sidebar.
		Width(SidebarWidth).
		Height(m.viewport.Height).
		Render(strings.Join(lines, "\n"))
}

// =============================================================================
// MESSAGES
// =============================================================================

// renderConversation renders the current conversation for a given width.
func (m *Model) renderConversation(width int) string {
	c, ok := m.app.Book.Current()
	if !ok || c.IsEmpty() {
		return m.renderWelcome(width)
	}

	bubble := width - 8
	if bubble < render.MinWidth {
		bubble = render.MinWidth
	}
	blocks := make([]string, 0, len(c.Messages))
	for _, msg := range c.Messages {
		blocks = append(blocks, m.renderMessage(msg, bubble))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) renderMessage(msg *model.Message, width int) string {
	label := m.theme.RoleLabel.Render(msg.Role.DisplayName())
	if !msg.Timestamp.IsZero() {
		label += " " + m.theme.Timestamp.Render(msg.FormatTime())
	}

	switch {
	case msg.Role == model.RoleUser:
		return lipgloss.JoinVertical(lipgloss.Right, label,
			m.theme.UserBubble.Render(render.Wrap(msg.Content, width)))

	case msg.Error:
		return label + "\n" + m.theme.ErrorBubble.Render(render.Wrap(msg.Content, width))

	case msg.IsPlaceholder():
		return label + "\n" + m.theme.Thinking.Render(msg.Content)

	case msg.ID == m.replyID:
		// Still streaming; markdown is rendered once the reply is final.
		return label + "\n" + m.theme.AssistantBubble.Render(render.Wrap(msg.Content, width))
	}

	k := renderKey{id: msg.ID, width: width}
	out, ok := m.rendered[k]
	if !ok {
		out = m.md.Render(msg.Content, width)
		m.rendered[k] = out
	}
	return label + "\n" + m.theme.AssistantBubble.Render(out)
}

func (m *Model) renderWelcome(width int) string {
	lines := []string{
		m.theme.HeaderTitle.Render("Bienvenido a agrochat"),
		"",
		"Escribe una pregunta sobre tu cultivo y pulsa Enter.",
	}
	if !m.session.Authenticated() && !m.session.Loading && m.session.Status != session.StatusUnknown {
		lines = append(lines, "", m.theme.Notice.Render("Inicia sesión primero: agrochat login"))
	}
	lines = append(lines, "", m.theme.Muted.Render(fmt.Sprintf("%d chats guardados", m.app.Book.Len())))
	return lipgloss.NewStyle().Width(width).Render(strings.Join(lines, "\n"))
}

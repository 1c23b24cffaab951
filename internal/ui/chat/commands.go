// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// Command is a slash command.
type Command struct {
	Name    string
	Args    string
	Summary string
}

// Commands lists the slash commands in help order.
var Commands = []Command{
	{Name: "/new", Summary: "start a new chat"},
	{Name: "/rename", Args: "<title>", Summary: "rename the current chat"},
	{Name: "/delete", Summary: "delete the current chat"},
	{Name: "/list", Summary: "show chats in the message view"},
	{Name: "/logout", Summary: "forget the stored login"},
	{Name: "/help", Summary: "show commands"},
	{Name: "/quit", Summary: "exit"},
}

// ParseCommand splits "/rename Riego" into ("/rename", "Riego").
func ParseCommand(input string) (name, arg string) {
	input = strings.TrimSpace(input)
	name, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (m Model) runCommand(input string) (tea.Model, tea.Cmd) {
	name, arg := ParseCommand(input)
	switch name {
	case "/new":
		m.newChat()

	case "/rename":
		id := m.app.Book.CurrentID()
		if id == "" {
			m.setNotice("No chat selected.", true)
			break
		}
		changed, err := m.app.Book.Rename(id, arg)
		switch {
		case err != nil:
			m.setNotice("Rename not saved: "+err.Error(), true)
		case !changed:
			m.setNotice("Usage: /rename <title>", false)
		default:
			m.setNotice("Renamed.", false)
		}
		m.refresh()

	case "/delete":
		if m.sending {
			m.setNotice("Wait for the reply to finish.", false)
			break
		}
		id := m.app.Book.CurrentID()
		if id == "" {
			m.setNotice("No chat selected.", true)
			break
		}
		if err := m.app.Book.Delete(id); err != nil {
			m.setNotice(err.Error(), true)
		} else {
			m.setNotice("Chat deleted.", false)
		}
		m.refresh()

	case "/list":
		var b strings.Builder
		for _, s := range m.app.Book.List(arg) {
			mark := " "
			if s.Current {
				mark = "*"
			}
			fmt.Fprintf(&b, "%s %s (%d)\n", mark, s.Title, s.MessageCount)
		}
		if b.Len() == 0 {
			m.setNotice("No chats.", false)
		} else {
			m.viewport.SetContent(b.String())
			m.viewport.GotoTop()
		}

	case "/logout":
		m.app.Pipeline.Cancel()
		m.app.Session.Logout()
		m.session = m.app.Session.Snapshot()
		m.setNotice("Logged out.", false)

	case "/help":
		m.showHelp = !m.showHelp
		m.resize(m.width, m.height)

	case "/quit", "/exit":
		m.app.Pipeline.Cancel()
		return m, tea.Quit

	default:
		m.setNotice(fmt.Sprintf("Unknown command %s. Try /help.", name), true)
	}
	return m, nil
}

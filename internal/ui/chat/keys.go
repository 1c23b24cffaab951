// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines all keyboard bindings for the chat interface.
type KeyMap struct {
	Submit        key.Binding
	Cancel        key.Binding
	Quit          key.Binding
	NewChat       key.Binding
	NextChat      key.Binding
	PrevChat      key.Binding
	ToggleSidebar key.Binding
	PageUp        key.Binding
	PageDown      key.Binding
	Help          key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "stop reply"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+q"),
			key.WithHelp("C-c", "quit"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new chat"),
		),
		NextChat: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("Tab", "older chat"),
		),
		PrevChat: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("S-Tab", "newer chat"),
		),
		ToggleSidebar: key.NewBinding(
			key.WithKeys("ctrl+b"),
			key.WithHelp("C-b", "chat list"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "ctrl+u"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "ctrl+d"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NewChat, k.NextChat, k.Help, k.Quit}
}

// FullHelp returns all bindings grouped for the help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Cancel, k.Quit},
		{k.NewChat, k.NextChat, k.PrevChat, k.ToggleSidebar},
		{k.PageUp, k.PageDown, k.Help},
	}
}

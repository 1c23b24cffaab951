// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/agrochat/internal/ui/styles"
)

func init() {
	// Respects NO_COLOR, FORCE_COLOR and TTY detection.
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Leaf)

	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	PromptStyle = lipgloss.NewStyle().
			Foreground(styles.Leaf).
			Bold(true)
)

// RenderSeparator renders a horizontal rule, 60 columns by default.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return DimStyle.Render(strings.Repeat("-", w))
}

// RenderField renders "label  value" with an aligned label.
func RenderField(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// RenderStatus colors a status word.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "online", "authenticated", "ready":
		return SuccessStyle.Render(status)
	case "offline", "error", "failed", "unauthenticated":
		return ErrorStyle.Render(status)
	default:
		return WarningStyle.Render(status)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme modes accepted by NewTheme.
const (
	ModeAuto  = "auto"
	ModeDark  = "dark"
	ModeLight = "light"
)

// Theme holds all the styled components for the application.
type Theme struct {
	// Terminal capabilities
	Mode         string
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER AND STATUS
	// ==========================================================================

	Header       lipgloss.Style
	HeaderTitle  lipgloss.Style
	HeaderUser   lipgloss.Style
	StatusBar    lipgloss.Style
	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	StatusError  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	ErrorBubble     lipgloss.Style
	RoleLabel       lipgloss.Style
	Timestamp       lipgloss.Style
	Thinking        lipgloss.Style

	// ==========================================================================
	// CONVERSATION LIST
	// ==========================================================================

	Sidebar         lipgloss.Style
	ListItem        lipgloss.Style
	ListItemCurrent lipgloss.Style
	ListPreview     lipgloss.Style

	// ==========================================================================
	// INPUT AND MISC
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	Notice         lipgloss.Style
	Muted          lipgloss.Style
}

// NewTheme creates a theme. Mode "dark" or "light" overrides background
// detection; anything else detects it from the terminal.
func NewTheme(mode string) *Theme {
	mode = strings.ToLower(strings.TrimSpace(mode))

	var isDark bool
	switch mode {
	case ModeDark:
		isDark = true
	case ModeLight:
		isDark = false
	default:
		mode = ModeAuto
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		Mode:         mode,
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Leaf)

	t.HeaderUser = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.StatusOK = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.StatusWarn = lipgloss.NewStyle().Foreground(Amber)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose).Bold(true)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Sky).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Message bubbles
	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 1).
		MarginLeft(4)

	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(AssistantBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(AssistantBubbleBorder).
		Padding(0, 1).
		MarginRight(4)

	t.ErrorBubble = lipgloss.NewStyle().
		Foreground(ErrorBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Rose).
		BorderLeft(true).
		PaddingLeft(1).
		MarginRight(4)

	t.RoleLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextSecondary)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.Thinking = lipgloss.NewStyle().
		Foreground(Leaf).
		Italic(true)

	// Conversation list
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Overlay).
		PaddingRight(1)

	t.ListItem = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.ListItemCurrent = lipgloss.NewStyle().
		Foreground(Soil).
		Bold(true)

	t.ListPreview = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Leaf).
		Bold(true)

	t.Notice = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.Muted = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// BubbleWidth is the wrap width for message text at the current size.
func (t *Theme) BubbleWidth() int {
	w := t.Width - 10
	if t.GetLayoutMode() == LayoutWide {
		w = t.Width*3/4 - 10
	}
	if w < 20 {
		w = 20
	}
	return w
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns assistant replies into terminal text.
package render

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/agrochat/internal/ui/styles"
)

// MinWidth is the narrowest wrap width the renderer accepts.
const MinWidth = 20

// Markdown renders markdown with glamour, caching one renderer per width.
// Rendering falls back to wrapped plain text if glamour fails.
type Markdown struct {
	mode    string
	enabled bool

	mu        sync.Mutex
	renderers map[int]*glamour.TermRenderer
}

// NewMarkdown creates a renderer for a theme mode. When enabled is false
// Render only wraps text.
func NewMarkdown(mode string, enabled bool) *Markdown {
	return &Markdown{
		mode:      mode,
		enabled:   enabled,
		renderers: make(map[int]*glamour.TermRenderer),
	}
}

// Enabled reports whether markdown rendering is on.
func (m *Markdown) Enabled() bool {
	return m.enabled
}

func (m *Markdown) renderer(width int) *glamour.TermRenderer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.renderers[width]; ok {
		return r
	}

	style := glamour.WithAutoStyle()
	switch m.mode {
	case styles.ModeDark:
		style = glamour.WithStandardStyle("dark")
	case styles.ModeLight:
		style = glamour.WithStandardStyle("light")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		r = nil
	}
	m.renderers[width] = r
	return r
}

// Render renders content wrapped to width.
func (m *Markdown) Render(content string, width int) string {
	if width < MinWidth {
		width = MinWidth
	}
	if !m.enabled {
		return Wrap(content, width)
	}
	r := m.renderer(width)
	if r == nil {
		return Wrap(content, width)
	}
	out, err := r.Render(content)
	if err != nil {
		return Wrap(content, width)
	}
	return strings.Trim(out, "\n")
}

// Wrap wraps plain text at word boundaries to width display columns,
// keeping existing line breaks. Words wider than width are split.
func Wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteByte('\n')
		}
		wrapLine(&out, line, width)
	}
	return out.String()
}

func wrapLine(out *strings.Builder, line string, width int) {
	col := 0
	for _, word := range strings.Fields(line) {
		w := runewidth.StringWidth(word)
		for w > width {
			if col > 0 {
				out.WriteByte('\n')
				col = 0
			}
			head := runewidth.Truncate(word, width, "")
			if head == "" {
				_, size := utf8.DecodeRuneInString(word)
				head = word[:size]
			}
			out.WriteString(head)
			out.WriteByte('\n')
			word = word[len(head):]
			w = runewidth.StringWidth(word)
		}
		if w == 0 {
			continue
		}
		switch {
		case col == 0:
		case col+1+w > width:
			out.WriteByte('\n')
			col = 0
		default:
			out.WriteByte(' ')
			col++
		}
		out.WriteString(word)
		col += w
	}
}

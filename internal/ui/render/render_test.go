// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "hola mundo", 20, "hola mundo"},
		{"breaks at word", "riego por goteo diario", 10, "riego por\ngoteo\ndiario"},
		{"keeps newlines", "uno\ndos", 20, "uno\ndos"},
		{"collapses spaces", "a    b", 20, "a b"},
		{"splits long word", "abcdefghij", 4, "abcd\nefgh\nij"},
		{"zero width", "sin cambio", 0, "sin cambio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Wrap(tt.text, tt.width); got != tt.want {
				t.Errorf("Wrap(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestWrap_WideRunes(t *testing.T) {
	got := Wrap("農業 農業 農業", 5)
	for _, line := range strings.Split(got, "\n") {
		assert.LessOrEqual(t, runewidth.StringWidth(line), 5, "line %q", line)
	}
}

func TestMarkdown_Disabled(t *testing.T) {
	m := NewMarkdown("dark", false)
	assert.False(t, m.Enabled())
	assert.Equal(t, "**hola**", m.Render("**hola**", 40))
}

func TestMarkdown_Enabled(t *testing.T) {
	m := NewMarkdown("dark", true)
	out := m.Render("**Riego**: dos veces por semana", 40)
	assert.Contains(t, out, "Riego")
	assert.NotContains(t, out, "**")
}

func TestMarkdown_MinWidth(t *testing.T) {
	m := NewMarkdown("light", false)
	got := m.Render("uno dos tres cuatro cinco seis", 5)
	for _, line := range strings.Split(got, "\n") {
		assert.LessOrEqual(t, runewidth.StringWidth(line), MinWidth)
	}
}

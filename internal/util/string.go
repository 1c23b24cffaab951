// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended by the truncation helpers when text is cut.
const Ellipsis = "..."

// TruncateRunes keeps the first maxRunes runes of s and appends Ellipsis
// when anything was dropped. The ellipsis does not count toward maxRunes.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + Ellipsis
}

// TruncateWidth cuts s to fit maxWidth terminal columns, ellipsis included.
// Wide runes (CJK, emoji) count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(Ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// PadRight pads s with spaces up to width columns.
func PadRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// OneLine collapses all whitespace runs, newlines included, into single
// spaces. Used for list previews.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

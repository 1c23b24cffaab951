// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// isTerminalWriter reports whether w is a terminal file.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// isTerminalReader reports whether r is a terminal file.
func isTerminalReader(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// TERMINAL WIDTH
// =============================================================================

const (
	DefaultTerminalWidth = 80
	MinTerminalWidth     = 40
)

// GetTerminalWidth returns the stdout width, or DefaultTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	return width
}

// =============================================================================
// COLOR CONTROL
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled reports whether colored output should be used. NO_COLOR
// wins over FORCE_COLOR, which wins over TTY detection.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// GetColorProfile returns Ascii when colors are disabled.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// =============================================================================
// TTY REQUIREMENTS
// =============================================================================

// TTYRequiredError is returned when an operation needs a terminal.
type TTYRequiredError struct {
	Operation string
}

func (e *TTYRequiredError) Error() string {
	return fmt.Sprintf("%s requires an interactive terminal", e.Operation)
}

// RequiresTTY fails unless stdin and stdout are terminals.
func RequiresTTY(operation string) error {
	if !IsTTY() || !IsStdoutTTY() {
		return &TTYRequiredError{Operation: operation}
	}
	return nil
}

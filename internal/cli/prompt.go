// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/agrochat/internal/config"
)

// ErrAborted is returned when the user abandons a prompt.
var ErrAborted = errors.New("aborted")

// =============================================================================
// LINE PROMPTS
// =============================================================================

// Prompter reads lines with editing and, when given a history file,
// persistent history.
type Prompter struct {
	line        *liner.State
	historyFile string
}

// NewPrompter creates a prompter. An empty historyFile disables history.
func NewPrompter(historyFile string) *Prompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	p := &Prompter{line: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return p
}

// ReadLine prompts for a line. Ctrl+C and Ctrl+D both return ErrAborted.
func (p *Prompter) ReadLine(prompt string) (string, error) {
	input, err := p.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	if p.historyFile != "" && strings.TrimSpace(input) != "" {
		p.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (p *Prompter) Close() {
	if p.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(p.historyFile), 0700); err == nil {
			if f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				p.line.WriteHistory(f)
				f.Close()
			}
		}
	}
	p.line.Close()
}

// chatHistoryFile is where line-mode chat keeps its input history.
func chatHistoryFile() string {
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}

// promptValue returns value if set, otherwise asks for it on a terminal.
func promptValue(value, label, flag string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if !IsTTY() {
		return "", NewUsageError(fmt.Sprintf("%s is required", label), "--"+flag+" <"+label+">")
	}
	p := NewPrompter("")
	defer p.Close()
	v, err := p.ReadLine(PromptStyle.Render(label + ": "))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// =============================================================================
// PASSWORDS
// =============================================================================

// readPassword reads a password. With fromStdin the first line of in is
// used; otherwise the terminal is read without echo.
func readPassword(in io.Reader, out io.Writer, prompt string, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return "", NewUsageError("empty password on stdin", "echo \"$PASS\" | agrochat login ana --password-stdin")
		}
		return line, nil
	}
	if !isTerminalReader(in) {
		return "", NewUsageError("password is required", "echo \"$PASS\" | agrochat login ana --password-stdin")
	}

	fmt.Fprint(out, prompt)
	pw, err := term.ReadPassword(int(in.(*os.File).Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// confirm asks a yes/no question on the terminal. Anything but y or yes is no.
func confirm(question string) (bool, error) {
	p := NewPrompter("")
	defer p.Close()
	answer, err := p.ReadLine(WarningStyle.Render(question) + " [y/N]: ")
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "s", "si", "sí":
		return true, nil
	}
	return false, nil
}

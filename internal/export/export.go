// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/agrochat/internal/model"
	"github.com/jeranaias/agrochat/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation to one format.
type Exporter interface {
	Export(conv *model.Conversation) ([]byte, error)

	// FileExtension includes the dot, e.g. ".md".
	FileExtension() string

	MimeType() string
}

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// Formats lists the supported formats.
var Formats = []Format{FormatMarkdown, FormatHTML, FormatJSON}

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported format %q (want md, html or json)", s)
}

// New returns the exporter for f.
func New(f Format, opts *Options) (Exporter, error) {
	switch f {
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatHTML:
		return NewHTMLExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory.
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	IncludeMetadata   bool
	IncludeTimestamps bool

	// Theme for HTML export, "light" or "dark".
	Theme string

	// Now stamps the export. Tests pin it.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// ErrEmpty is returned for conversations without messages.
var ErrEmpty = errors.New("conversation has no messages")

func validate(conv *model.Conversation) error {
	if conv == nil {
		return errors.New("conversation is nil")
	}
	if conv.IsEmpty() {
		return ErrEmpty
	}
	return nil
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

// ToFile exports conv into opts.OutputDir and returns the file path. The
// name is derived from the title and the export time.
func ToFile(conv *model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("%s_%s%s",
		sanitizeFilename(conv.DisplayTitle()),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644, 0755); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(outputPath); err != nil {
			return outputPath, fmt.Errorf("exported but could not open: %w", err)
		}
	}
	return outputPath, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in file names on
// any platform and caps the length at 50 runes.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)
	s = strings.TrimSuffix(s, util.Ellipsis)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func roleLabel(m *model.Message) string {
	if m.Error {
		return "Error"
	}
	return m.Role.DisplayName()
}

// generator names the exporting program in metadata.
const generator = "agrochat"

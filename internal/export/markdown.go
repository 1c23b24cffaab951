// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/agrochat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown with YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder
	exported := e.options.now()

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.DisplayTitle()))
		fmt.Fprintf(&sb, "id: %s\n", escapeYAML(conv.ID))
		fmt.Fprintf(&sb, "date: %s\n", conv.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", conv.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", conv.MessageCount())
		fmt.Fprintf(&sb, "exported: %s\n", exported.Format(time.RFC3339))
		fmt.Fprintf(&sb, "generator: %s\n", generator)
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.DisplayTitle()))

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", conv.MessageCount())
		sb.WriteString("\n---\n\n")
	}

	for i, msg := range conv.Messages {
		label := roleLabel(msg)
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, msg.FormatTime())
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if msg.Error {
			// Error text is plain; quote it so it reads apart from replies.
			for _, line := range strings.Split(msg.Content, "\n") {
				sb.WriteString("> " + line + "\n")
			}
		} else {
			sb.WriteString(strings.TrimRight(msg.Content, "\n"))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from %s on %s*\n", generator, exported.Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes the characters that break headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes a scalar when it holds YAML syntax, so a title cannot
// inject frontmatter keys.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return "\"" + s + "\""
	}
	return s
}

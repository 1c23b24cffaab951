// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromaHTML "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/agrochat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page with
// embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder
	title := html.EscapeString(conv.DisplayTitle())

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"es\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", title)
	fmt.Fprintf(&sb, "    <meta name=\"generator\" content=\"%s\">\n", generator)
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339))
	sb.WriteString(htmlCSS)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", e.theme())
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString("        <header class=\"header\">\n")
		fmt.Fprintf(&sb, "            <h1>%s</h1>\n", title)
		sb.WriteString("            <div class=\"metadata\">\n")
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt))
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", conv.MessageCount())
		sb.WriteString("            </div>\n")
		sb.WriteString("        </header>\n")
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range conv.Messages {
		sb.WriteString(e.renderMessage(msg))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported from <strong>%s</strong> on %s</p>\n",
		generator, e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) theme() string {
	if e.options.Theme == "light" {
		return "light"
	}
	return "dark"
}

// =============================================================================
// RENDERING
// =============================================================================

func (e *HTMLExporter) renderMessage(msg *model.Message) string {
	var sb strings.Builder

	class := string(msg.Role)
	if msg.Error {
		class = "error"
	}
	fmt.Fprintf(&sb, "            <div class=\"message %s-message\">\n", html.EscapeString(class))
	sb.WriteString("                <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "                    <span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg)))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "                    <span class=\"timestamp\">%s</span>\n", msg.FormatTime())
	}
	sb.WriteString("                </div>\n")
	sb.WriteString("                <div class=\"message-content\">\n")
	sb.WriteString(formatContent(msg.Content, e.theme()))
	sb.WriteString("\n                </div>\n")
	sb.WriteString("            </div>\n")

	return sb.String()
}

var (
	codeBlockRegex  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRegex = regexp.MustCompile("`([^`\n]+)`")
)

// formatContent turns message text into HTML. Fenced code is cut out first
// and highlighted by chroma, which escapes its own output. Everything else
// is escaped before any markup is added, then split into paragraphs on
// blank lines.
func formatContent(content, theme string) string {
	content = strings.ReplaceAll(content, "\x00", "")

	var blocks []string
	content = codeBlockRegex.ReplaceAllStringFunc(content, func(match string) string {
		parts := codeBlockRegex.FindStringSubmatch(match)
		blocks = append(blocks, renderCodeBlock(parts[1], strings.TrimRight(parts[2], "\n"), theme))
		return fmt.Sprintf("\x00%d\x00", len(blocks)-1)
	})
	content = html.EscapeString(content)

	var out []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if idx, ok := blockIndex(para); ok && idx < len(blocks) {
			out = append(out, blocks[idx])
			continue
		}
		para = inlineCodeRegex.ReplaceAllString(para, "<code class=\"inline-code\">$1</code>")
		para = strings.ReplaceAll(para, "\n", "<br>\n")
		out = append(out, "<p>"+para+"</p>")
	}

	// A fence that shares a paragraph with text is restored in place.
	joined := strings.Join(out, "\n")
	for i, b := range blocks {
		joined = strings.ReplaceAll(joined, fmt.Sprintf("\x00%d\x00", i), b)
	}
	return joined
}

func renderCodeBlock(lang, code, theme string) string {
	var sb strings.Builder
	sb.WriteString("<div class=\"code-block\">")
	if lang != "" {
		fmt.Fprintf(&sb, "<div class=\"code-lang\">%s</div>", lang)
		fmt.Fprintf(&sb, "<pre><code class=\"language-%s\">", lang)
	} else {
		sb.WriteString("<pre><code>")
	}
	sb.WriteString(highlight(lang, code, theme))
	sb.WriteString("</code></pre></div>")
	return sb.String()
}

// highlight returns code as inline-styled HTML spans. On any chroma error
// the code is returned escaped and unstyled.
func highlight(lang, code, theme string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	styleName := "monokai"
	if theme == "light" {
		styleName = "github"
	}
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return html.EscapeString(code)
	}
	var buf bytes.Buffer
	formatter := chromaHTML.New(chromaHTML.WithClasses(false), chromaHTML.PreventSurroundingPre(true))
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return html.EscapeString(code)
	}
	return buf.String()
}

func blockIndex(s string) (int, bool) {
	if !strings.HasPrefix(s, "\x00") || !strings.HasSuffix(s, "\x00") || len(s) < 3 {
		return 0, false
	}
	idx, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const htmlCSS = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1b2118;
            --bg-secondary: #232b1f;
            --bg-tertiary: #3a4733;
            --text-primary: #e3ecd8;
            --text-secondary: #b9c7aa;
            --text-muted: #7d8c70;
            --border-color: #3a4733;
            --user-bg: #26301f;
            --assistant-bg: #232b1f;
            --code-bg: #1b2118;
            --accent: #8bc34a;
            --accent-red: #e57373;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f6f9f2;
            --bg-tertiary: #e2ead9;
            --text-primary: #25301e;
            --text-secondary: #4f5d44;
            --text-muted: #6f7d63;
            --border-color: #d6e0cb;
            --user-bg: #eef5e6;
            --assistant-bg: #ffffff;
            --code-bg: #f3f6ef;
            --accent: #4e7d1f;
            --accent-red: #c62828;
        }

        body {
            font-family: var(--font-sans);
            font-size: 16px;
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container {
            max-width: 900px;
            margin: 0 auto;
            background: var(--bg-secondary);
            border-radius: 12px;
            overflow: hidden;
        }

        .header {
            padding: 32px;
            background: var(--bg-tertiary);
            border-bottom: 2px solid var(--border-color);
        }

        .header h1 { font-size: 28px; margin-bottom: 12px; }

        .metadata {
            display: flex;
            flex-wrap: wrap;
            gap: 16px;
            font-size: 14px;
            color: var(--text-secondary);
        }

        .conversation { padding: 24px 32px; }

        .message {
            margin-bottom: 24px;
            padding: 20px;
            border-radius: 8px;
            border-left: 4px solid transparent;
        }

        .user-message { background: var(--user-bg); border-left-color: var(--accent); }
        .assistant-message { background: var(--assistant-bg); border-left-color: var(--border-color); }
        .error-message { background: var(--assistant-bg); border-left-color: var(--accent-red); color: var(--accent-red); }

        .message-header {
            display: flex;
            justify-content: space-between;
            margin-bottom: 8px;
            font-size: 14px;
        }

        .role-label { font-weight: 600; }
        .timestamp { color: var(--text-muted); }
        .message-content p { margin-bottom: 12px; }

        .code-block {
            margin: 12px 0;
            background: var(--code-bg);
            border: 1px solid var(--border-color);
            border-radius: 6px;
            overflow-x: auto;
        }

        .code-lang {
            padding: 4px 12px;
            font-size: 12px;
            color: var(--text-muted);
            border-bottom: 1px solid var(--border-color);
        }

        pre { padding: 12px; font-family: var(--font-mono); font-size: 14px; }

        .inline-code {
            font-family: var(--font-mono);
            background: var(--code-bg);
            padding: 2px 6px;
            border-radius: 4px;
        }

        .footer {
            padding: 16px 32px;
            font-size: 13px;
            color: var(--text-muted);
            border-top: 1px solid var(--border-color);
        }
    </style>
`

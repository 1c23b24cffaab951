// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agrochat/internal/model"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func testConversation(title string, msgs ...*model.Message) *model.Conversation {
	conv := model.NewConversation("chat_1735786800000")
	conv.Title = title
	if len(msgs) == 0 {
		msgs = []*model.Message{
			model.NewUserMessage("¿Cuándo riego el maíz?"),
			{Role: model.RoleAssistant, Content: "Riega temprano.\n\n```bash\necho hola\n```", Timestamp: fixedNow},
		}
	}
	conv.Append(msgs...)
	return conv
}

// =============================================================================
// FORMAT LOOKUP
// =============================================================================

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"md", FormatMarkdown, false},
		{"Markdown", FormatMarkdown, false},
		{" html ", FormatHTML, false},
		{"htm", FormatHTML, false},
		{"json", FormatJSON, false},
		{"pdf", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNew_Extensions(t *testing.T) {
	want := map[Format]string{FormatMarkdown: ".md", FormatHTML: ".html", FormatJSON: ".json"}
	for _, f := range Formats {
		exp, err := New(f, nil)
		require.NoError(t, err)
		assert.Equal(t, want[f], exp.FileExtension())
		assert.NotEmpty(t, exp.MimeType())
	}

	_, err := New("pdf", nil)
	assert.Error(t, err)
}

func TestExport_RejectsEmpty(t *testing.T) {
	empty := model.NewConversation("chat_1")
	for _, f := range Formats {
		exp, _ := New(f, nil)
		_, err := exp.Export(empty)
		assert.ErrorIs(t, err, ErrEmpty, "format %s", f)

		_, err = exp.Export(nil)
		assert.Error(t, err, "format %s", f)
	}
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdown_Content(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions()).Export(testConversation("Riego de maíz"))
	require.NoError(t, err)
	s := string(out)

	assert.True(t, strings.HasPrefix(s, "---\ntitle: Riego de maíz\n"))
	assert.Contains(t, s, "generator: agrochat\n")
	assert.Contains(t, s, "messages: 2\n")
	assert.Contains(t, s, "# Riego de maíz\n")
	assert.Contains(t, s, "### You")
	assert.Contains(t, s, "### Assistant")
	assert.Contains(t, s, "```bash\necho hola\n```")
	assert.Contains(t, s, "*Exported from agrochat on January 2, 2025 at 3:04 AM*")
}

func TestMarkdown_NoMetadata(t *testing.T) {
	opts := testOptions()
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	out, err := NewMarkdownExporter(opts).Export(testConversation("Plain"))
	require.NoError(t, err)
	s := string(out)

	assert.True(t, strings.HasPrefix(s, "# Plain\n"))
	assert.NotContains(t, s, "generator:")
	assert.Contains(t, s, "### You\n")
	assert.NotContains(t, s, "<sub>")
}

func TestMarkdown_ErrorMessageQuoted(t *testing.T) {
	conv := testConversation("Falla",
		model.NewUserMessage("hola"),
		model.NewErrorMessage("Server error: 500"),
	)
	out, err := NewMarkdownExporter(testOptions()).Export(conv)
	require.NoError(t, err)

	assert.Contains(t, string(out), "### Error")
	assert.Contains(t, string(out), "> Stream error: Server error: 500\n")
}

func TestMarkdown_YAMLInjection(t *testing.T) {
	conv := testConversation("x\nmalicious: true")
	out, err := NewMarkdownExporter(testOptions()).Export(conv)
	require.NoError(t, err)

	front := strings.SplitN(string(out), "---\n", 3)[1]
	assert.NotContains(t, front, "\nmalicious: true\n", "title must not inject a frontmatter key")
	assert.Contains(t, front, `title: "x\nmalicious: true"`)
}

func TestEscapeYAML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"simple", "simple"},
		{"a: b", `"a: b"`},
		{`back\slash`, `"back\\slash"`},
		{`say "hi"`, `"say \"hi\""`},
		{" padded", `" padded"`},
	}
	for _, tt := range tests {
		if got := escapeYAML(tt.in); got != tt.want {
			t.Errorf("escapeYAML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\# \*bold\* \_x\_ \[link\]`, escapeMarkdown("# *bold* _x_ [link]"))
}

// =============================================================================
// HTML
// =============================================================================

func TestHTML_Content(t *testing.T) {
	out, err := NewHTMLExporter(testOptions()).Export(testConversation("Riego"))
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, "<title>Riego</title>")
	assert.Contains(t, s, `<body class="dark-theme">`)
	assert.Contains(t, s, `class="message user-message"`)
	assert.Contains(t, s, `class="message assistant-message"`)
	assert.Contains(t, s, `<div class="code-lang">bash</div>`)
	assert.Contains(t, s, `<pre><code class="language-bash">`)
	assert.Contains(t, s, "echo")
	assert.Contains(t, s, "hola")
	assert.Contains(t, s, "<p>Riega temprano.</p>")
}

func TestHTML_LightThemeAndErrors(t *testing.T) {
	opts := testOptions()
	opts.Theme = "light"
	conv := testConversation("T", model.NewUserMessage("q"), model.NewErrorMessage("boom"))

	out, err := NewHTMLExporter(opts).Export(conv)
	require.NoError(t, err)
	assert.Contains(t, string(out), `<body class="light-theme">`)
	assert.Contains(t, string(out), `class="message error-message"`)
}

func TestHTML_EscapesXSS(t *testing.T) {
	conv := testConversation("<script>alert(1)</script>",
		model.NewUserMessage("<img src=x onerror=alert(1)>"),
		&model.Message{Role: model.RoleAssistant, Content: "```<script>\nx\n```\n\nuse `<b>`"},
	)
	out, err := NewHTMLExporter(testOptions()).Export(conv)
	require.NoError(t, err)
	s := string(out)

	assert.NotContains(t, s, "<script>")
	assert.NotContains(t, s, "<img")
	assert.NotContains(t, s, "<b>")
	assert.Contains(t, s, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.Contains(t, s, "&lt;img src=x onerror=alert(1)&gt;")
	assert.Contains(t, s, `<code class="inline-code">&lt;b&gt;</code>`)
}

func TestFormatContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"paragraphs", "uno\n\ndos", "<p>uno</p>\n<p>dos</p>"},
		{"line break", "uno\ndos", "<p>uno<br>\ndos</p>"},
		{"inline code", "run `ls`", `<p>run <code class="inline-code">ls</code></p>`},
		{"stray placeholder", "a\x000\x00b", "<p>a0b</p>"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatContent(tt.in, "dark"); got != tt.want {
				t.Errorf("formatContent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatContent_CodeBlocks(t *testing.T) {
	out := formatContent("antes\n\n```html\n<b>x</b>\n```\n\ndespués", "light")

	assert.True(t, strings.HasPrefix(out, "<p>antes</p>\n<div class=\"code-block\">"), out)
	assert.True(t, strings.HasSuffix(out, "</code></pre></div>\n<p>después</p>"), out)
	assert.Contains(t, out, `<pre><code class="language-html">`)
	assert.NotContains(t, out, "<b>", "code is escaped by the highlighter")
	assert.Contains(t, out, "&lt;")

	plain := formatContent("```\nsin lenguaje\n```", "dark")
	assert.True(t, strings.HasPrefix(plain, `<div class="code-block"><pre><code>`), plain)
	assert.NotContains(t, plain, "code-lang")
	assert.Contains(t, plain, "lenguaje")
}

// =============================================================================
// JSON
// =============================================================================

func TestJSON_Envelope(t *testing.T) {
	conv := testConversation("Riego")
	out, err := NewJSONExporter(testOptions()).Export(conv)
	require.NoError(t, err)

	var doc struct {
		Generator    string              `json:"generator"`
		ExportedAt   time.Time           `json:"exported_at"`
		Conversation *model.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "agrochat", doc.Generator)
	assert.True(t, doc.ExportedAt.Equal(fixedNow))
	require.NotNil(t, doc.Conversation)
	assert.Equal(t, conv.ID, doc.Conversation.ID)
	assert.Len(t, doc.Conversation.Messages, 2)
}

// =============================================================================
// FILES
// =============================================================================

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Riego de maíz", "Riego_de_maíz"},
		{`a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-e-f-g-h-i-j"},
		{"tab\there", "tab_here"},
		{"bell\x07", "bell-"},
		{"", "conversation"},
		{strings.Repeat("x", 60), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.OutputDir = dir

	conv := testConversation("Riego de maíz")
	path, err := ToFile(conv, NewMarkdownExporter(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Riego_de_maíz_20250102_030405.md"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Riego de maíz")
}

func TestToFile_ExportError(t *testing.T) {
	opts := testOptions()
	opts.OutputDir = t.TempDir()

	_, err := ToFile(model.NewConversation("chat_1"), NewJSONExporter(opts), opts)
	assert.ErrorIs(t, err, ErrEmpty)

	entries, _ := os.ReadDir(opts.OutputDir)
	assert.Empty(t, entries)
}

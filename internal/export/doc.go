// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved conversations as Markdown, HTML or JSON.
//
// # Usage
//
//	exp, err := export.New(export.FormatMarkdown, nil)
//	data, err := exp.Export(conv)
//
// Or straight to a file in Options.OutputDir:
//
//	path, err := export.ToFile(conv, exp, opts)
package export

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/agrochat/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the stored conversation as indented JSON, wrapped in
// a small envelope. Messages are never filtered so the output can be read
// back as a model.Conversation from the "conversation" field.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonDocument struct {
	Generator    string              `json:"generator"`
	ExportedAt   time.Time           `json:"exported_at"`
	Conversation *model.Conversation `json:"conversation"`
}

// Export converts a conversation to JSON.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}
	return json.MarshalIndent(jsonDocument{
		Generator:    generator,
		ExportedAt:   e.options.now().UTC(),
		Conversation: conv,
	}, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

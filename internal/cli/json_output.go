// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"time"
)

// JSONResponse is the envelope of every --json output.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Error     *string     `json:"error"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := Friendly(err)
	return &JSONResponse{
		Success:   false,
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

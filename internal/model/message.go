// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// MESSAGE CONSTANTS
// =============================================================================

const (
	// PlaceholderContent is the content of an assistant message that has
	// been created but has not received any stream data yet.
	PlaceholderContent = "..."

	// FallbackContent replaces an assistant reply that finished empty.
	FallbackContent = "Incomplete response."

	// ErrorPrefix starts the content of assistant messages created for a
	// failed exchange.
	ErrorPrefix = "Stream error: "
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Error marks assistant messages that describe a failed exchange.
	Error bool `json:"error,omitempty"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewPlaceholderMessage creates the assistant message that a streamed reply
// is written into.
func NewPlaceholderMessage() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   PlaceholderContent,
		Timestamp: time.Now(),
	}
}

// NewErrorMessage creates an assistant message describing a failure.
func NewErrorMessage(description string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   ErrorPrefix + description,
		Timestamp: time.Now(),
		Error:     true,
	}
}

// IsPlaceholder reports whether the message still holds the loading sentinel.
func (m *Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.Content == PlaceholderContent
}

// Finalize sets the complete reply text and stamps the completion time.
// Text that is blank after trimming becomes FallbackContent.
func (m *Message) Finalize(content string, at time.Time) {
	m.Timestamp = at
	if strings.TrimSpace(content) == "" {
		content = FallbackContent
	}
	m.Content = content
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// FormatTime returns the timestamp in short local form.
func (m *Message) FormatTime() string {
	return m.Timestamp.Local().Format("15:04")
}

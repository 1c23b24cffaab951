// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/agrochat/internal/util"
)

const (
	// DefaultTitle is the title of a conversation before its first message.
	DefaultTitle = "Nuevo Chat"

	// TitleMaxRunes is the rune budget of a derived title, ellipsis excluded.
	TitleMaxRunes = 30

	// IDPrefix starts every conversation ID.
	IDPrefix = "chat_"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered, titled list of messages.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// Renamed is set once the user picks a title; derived titles never
	// overwrite it.
	Renamed bool `json:"renamed,omitempty"`
}

// NewConversation creates an empty conversation with the default title.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  make([]*Message, 0, 2),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages in order. Callers stamp UpdatedAt.
func (c *Conversation) Append(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
}

// IsEmpty returns true if the conversation has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// DeriveTitle sets the title from the first user message. It is a no-op once
// the conversation holds more than that message or was renamed.
func (c *Conversation) DeriveTitle(text string) {
	if c.Renamed || c.userMessages() > 1 {
		return
	}
	if t := TitleFrom(text); t != "" {
		c.Title = t
	}
}

// Rename sets an explicit title. Blank names are ignored and reported false.
func (c *Conversation) Rename(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	c.Title = title
	c.Renamed = true
	c.UpdatedAt = time.Now()
	return true
}

// DisplayTitle returns the title, falling back to DefaultTitle.
func (c *Conversation) DisplayTitle() string {
	if strings.TrimSpace(c.Title) == "" {
		return DefaultTitle
	}
	return c.Title
}

// Preview returns a one-line excerpt of the last message.
func (c *Conversation) Preview(maxRunes int) string {
	last := c.LastMessage()
	if last == nil {
		return ""
	}
	return util.TruncateRunes(util.OneLine(last.Content), maxRunes)
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		cp.Messages[i] = m.Clone()
	}
	return &cp
}

func (c *Conversation) userMessages() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// TitleFrom derives a title from message text: trimmed, NFC-normalized so
// combining accents count as one rune, and cut to TitleMaxRunes.
func TitleFrom(text string) string {
	text = norm.NFC.String(strings.TrimSpace(text))
	return util.TruncateRunes(text, TitleMaxRunes)
}

// =============================================================================
// CONVERSATION IDS
// =============================================================================

var (
	idMu   sync.Mutex
	lastID int64
)

// NextConversationID returns a "chat_<unix millis>" ID that is strictly
// greater than every ID previously returned by this process and not
// reported as taken by the optional exists func.
func NextConversationID(exists func(string) bool) string {
	idMu.Lock()
	defer idMu.Unlock()

	ms := time.Now().UnixMilli()
	if ms <= lastID {
		ms = lastID + 1
	}
	for {
		id := IDPrefix + strconv.FormatInt(ms, 10)
		if exists == nil || !exists(id) {
			lastID = ms
			return id
		}
		ms++
	}
}

// ParseConversationID returns the creation time encoded in a conversation ID.
func ParseConversationID(id string) (time.Time, error) {
	raw, ok := strings.CutPrefix(id, IDPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("conversation id %q: missing %q prefix", id, IDPrefix)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("conversation id %q: %w", id, err)
	}
	return time.UnixMilli(ms), nil
}

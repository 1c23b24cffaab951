// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the conversation map and the current
// conversation pointer, and persists both to the local store.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/model"
	"github.com/jeranaias/agrochat/internal/storage"
)

// ErrConversationNotFound is returned for unknown conversation IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// Store is the subset of storage.Store the book needs.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Handle addresses one message. It is checked before every write, so a
// handle whose conversation was deleted or restructured stops matching
// instead of writing into the wrong message.
type Handle struct {
	ConversationID string
	Index          int
	MessageID      string
}

// Summary is a list entry.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Current      bool      `json:"current"`
}

// Book holds every conversation of the local user.
type Book struct {
	mu      sync.RWMutex
	store   Store
	convs   map[string]*model.Conversation
	current string

	listeners []func(id string)
}

// Open loads the book from store. A missing or unreadable conversation map
// starts an empty book; the unreadable case is logged.
func Open(store Store) (*Book, error) {
	b := &Book{store: store}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload replaces the in-memory state with what the store holds.
func (b *Book) Reload() error {
	convs := make(map[string]*model.Conversation)
	raw, err := b.store.Get(storage.KeyConversations)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal([]byte(raw), &convs); jsonErr != nil {
			logger.Warn("discarding unreadable conversations", "err", jsonErr)
			convs = make(map[string]*model.Conversation)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	for id, c := range convs {
		if c == nil {
			delete(convs, id)
			continue
		}
		c.ID = id
	}

	current, err := b.store.Get(storage.KeyCurrentChat)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load current conversation: %w", err)
	}
	if _, ok := convs[current]; !ok {
		current = ""
	}

	b.mu.Lock()
	b.convs = convs
	b.current = current
	b.mu.Unlock()

	b.emit("")
	return nil
}

// OnChange registers fn to run after every mutation with the affected
// conversation ID, or "" for book-wide changes.
func (b *Book) OnChange(fn func(id string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// =============================================================================
// READS
// =============================================================================

// Get returns a copy of the conversation.
func (b *Book) Get(id string) (*model.Conversation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.convs[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Current returns a copy of the current conversation, if any.
func (b *Book) Current() (*model.Conversation, bool) {
	b.mu.RLock()
	id := b.current
	b.mu.RUnlock()
	if id == "" {
		return nil, false
	}
	return b.Get(id)
}

// CurrentID returns the current conversation ID, or "".
func (b *Book) CurrentID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Len returns the number of conversations.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.convs)
}

// List returns conversations newest first. A non-empty query keeps only
// titles containing it, compared case-insensitively.
func (b *Book) List(query string) []Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))

	out := make([]Summary, 0, len(b.convs))
	for _, c := range b.sortedLocked() {
		if q != "" && !strings.Contains(fold.String(c.DisplayTitle()), q) {
			continue
		}
		out = append(out, Summary{
			ID:           c.ID,
			Title:        c.DisplayTitle(),
			MessageCount: c.MessageCount(),
			Preview:      c.Preview(60),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			Current:      c.ID == b.current,
		})
	}
	// Newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// sortedLocked returns conversations in creation order.
func (b *Book) sortedLocked() []*model.Conversation {
	list := make([]*model.Conversation, 0, len(b.convs))
	for _, c := range b.convs {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// Create starts an empty conversation and makes it current.
func (b *Book) Create() (*model.Conversation, error) {
	b.mu.Lock()
	c := b.createLocked()
	err := b.saveLocked()
	cp := c.Clone()
	b.mu.Unlock()

	b.emit(c.ID)
	return cp, err
}

func (b *Book) createLocked() *model.Conversation {
	id := model.NextConversationID(func(id string) bool {
		_, taken := b.convs[id]
		return taken
	})
	c := model.NewConversation(id)
	b.convs[id] = c
	b.current = id
	return c
}

// SetCurrent switches the current conversation.
func (b *Book) SetCurrent(id string) error {
	b.mu.Lock()
	if _, ok := b.convs[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	b.current = id
	err := b.saveLocked()
	b.mu.Unlock()

	b.emit(id)
	return err
}

// Rename sets an explicit title. A blank title is ignored and reported as
// false.
func (b *Book) Rename(id, title string) (bool, error) {
	b.mu.Lock()
	c, ok := b.convs[id]
	if !ok {
		b.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if !c.Rename(title) {
		b.mu.Unlock()
		return false, nil
	}
	err := b.saveLocked()
	b.mu.Unlock()

	b.emit(id)
	return true, err
}

// Delete removes a conversation. If it was current, the most recently
// created remaining conversation becomes current, or none.
func (b *Book) Delete(id string) error {
	b.mu.Lock()
	if _, ok := b.convs[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	delete(b.convs, id)
	if b.current == id {
		b.current = ""
		if rest := b.sortedLocked(); len(rest) > 0 {
			b.current = rest[len(rest)-1].ID
		}
	}
	err := b.saveLocked()
	b.mu.Unlock()

	b.emit(id)
	return err
}

// =============================================================================
// EXCHANGE STEPS
// =============================================================================

// BeginExchange appends the user message and the assistant placeholder in
// one locked step, deriving the title when the conversation was empty. An
// empty or unknown id targets a new conversation, which becomes current.
// The returned handle addresses the placeholder.
func (b *Book) BeginExchange(id, text string) (Handle, error) {
	b.mu.Lock()
	c, ok := b.convs[id]
	if id == "" || !ok {
		c = b.createLocked()
	}
	wasEmpty := c.IsEmpty()

	placeholder := model.NewPlaceholderMessage()
	c.Append(model.NewUserMessage(text), placeholder)
	if wasEmpty {
		c.DeriveTitle(text)
	}
	h := Handle{
		ConversationID: c.ID,
		Index:          len(c.Messages) - 1,
		MessageID:      placeholder.ID,
	}
	err := b.saveLocked()
	b.mu.Unlock()

	b.emit(h.ConversationID)
	return h, err
}

// WriteReply replaces the addressed message's content. It reports false,
// writing nothing, when the handle no longer matches.
func (b *Book) WriteReply(h Handle, content string) bool {
	b.mu.Lock()
	m := b.resolveLocked(h)
	if m == nil {
		b.mu.Unlock()
		return false
	}
	m.Content = content
	b.mu.Unlock()

	b.emit(h.ConversationID)
	return true
}

// FinalizeReply writes the complete reply through the handle and stamps the
// completion time. A blank reply becomes the fallback text. The book is
// persisted.
func (b *Book) FinalizeReply(h Handle, content string, at time.Time) bool {
	b.mu.Lock()
	m := b.resolveLocked(h)
	if m == nil {
		b.mu.Unlock()
		return false
	}
	m.Finalize(content, at)
	b.convs[h.ConversationID].UpdatedAt = at
	if err := b.saveLocked(); err != nil {
		logger.Warn("failed to persist finished reply", "conversation", h.ConversationID, "err", err)
	}
	b.mu.Unlock()

	b.emit(h.ConversationID)
	return true
}

// AppendError adds a new assistant message describing a failed exchange.
// The placeholder is left as it was.
func (b *Book) AppendError(id, description string) bool {
	b.mu.Lock()
	c, ok := b.convs[id]
	if !ok {
		b.mu.Unlock()
		return false
	}
	c.Append(model.NewErrorMessage(description))
	if err := b.saveLocked(); err != nil {
		logger.Warn("failed to persist error message", "conversation", id, "err", err)
	}
	b.mu.Unlock()

	b.emit(id)
	return true
}

// Valid reports whether h still addresses its message.
func (b *Book) Valid(h Handle) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolveLocked(h) != nil
}

func (b *Book) resolveLocked(h Handle) *model.Message {
	c, ok := b.convs[h.ConversationID]
	if !ok || h.Index < 0 || h.Index >= len(c.Messages) {
		return nil
	}
	m := c.Messages[h.Index]
	if m.ID != h.MessageID {
		return nil
	}
	return m
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (b *Book) saveLocked() error {
	data, err := json.Marshal(b.convs)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	if err := b.store.Set(storage.KeyConversations, string(data)); err != nil {
		return fmt.Errorf("failed to save conversations: %w", err)
	}
	if b.current == "" {
		err = b.store.Delete(storage.KeyCurrentChat)
	} else {
		err = b.store.Set(storage.KeyCurrentChat, b.current)
	}
	if err != nil {
		return fmt.Errorf("failed to save current conversation: %w", err)
	}
	return nil
}

func (b *Book) emit(id string) {
	b.mu.RLock()
	listeners := append([]func(string){}, b.listeners...)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(id)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State of a send operation.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateFinalized
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Conversations is the part of conversation.Book the pipeline mutates.
type Conversations interface {
	BeginExchange(id, text string) (conversation.Handle, error)
	WriteReply(h conversation.Handle, content string) bool
	FinalizeReply(h conversation.Handle, content string, at time.Time) bool
	AppendError(id, description string) bool
}

// Session supplies the credential and accepts forced logouts.
// session.Manager satisfies it.
type Session interface {
	Credential() (string, error)
	Invalidate(reason string)
}

// Interpreter opens a reply stream. api.Client satisfies it.
type Interpreter interface {
	Interpret(ctx context.Context, token, text string) (*api.Stream, error)
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind says what an Event reports.
type EventKind int

const (
	EventState EventKind = iota
	EventChunk
	EventFinalized
	EventFailed
)

// Event is delivered to listeners in the order things happened.
type Event struct {
	Kind    EventKind
	State   State
	Handle  conversation.Handle
	Content string
	Err     error
}

// Result describes a completed Send.
type Result struct {
	Handle  conversation.Handle
	State   State
	Content string
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline coordinates sends. One instance allows one send at a time.
type Pipeline struct {
	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	book    Conversations
	session Session
	client  Interpreter
	now     func() time.Time

	listeners []func(Event)
}

// New creates an idle pipeline.
func New(book Conversations, session Session, client Interpreter) *Pipeline {
	return &Pipeline{
		book:    book,
		session: session,
		client:  client,
		now:     time.Now,
	}
}

// OnEvent registers a listener. Listeners run on the sending goroutine and
// must not call Send.
func (p *Pipeline) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Busy reports whether a send is in flight.
func (p *Pipeline) Busy() bool {
	return p.State() != StateIdle
}

// Cancel aborts the in-flight send, if any. The send then fails with a
// stream error and the pipeline returns to idle.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send appends text to the conversation and streams the reply into it. An
// empty conversationID starts a new conversation.
//
// Validation and missing credentials are reported before anything is
// mutated. Once the user message is appended, every failure is recorded as
// an assistant error message and returned.
func (p *Pipeline) Send(ctx context.Context, conversationID, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{State: StateIdle}, ErrEmptyInput
	}

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return Result{State: p.State()}, ErrBusy
	}
	token, err := p.session.Credential()
	if err != nil {
		p.mu.Unlock()
		return Result{State: StateIdle}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.state = StateSending
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.state = StateIdle
		p.cancel = nil
		p.mu.Unlock()
		p.emit(Event{Kind: EventState, State: StateIdle})
	}()

	h, err := p.book.BeginExchange(conversationID, text)
	if err != nil {
		// The exchange is in memory; only persistence failed.
		logger.Warn("could not persist new message", "conversation", h.ConversationID, "err", err)
	}
	p.emit(Event{Kind: EventState, State: StateSending, Handle: h})

	log := logger.With("conversation", h.ConversationID)
	log.Debug("sending message", "runes", len([]rune(text)))

	stream, err := p.client.Interpret(runCtx, token, text)
	if err != nil {
		return p.fail(h, err)
	}
	defer stream.Close()

	p.setState(StateStreaming)
	p.emit(Event{Kind: EventState, State: StateStreaming, Handle: h})

	for {
		chunk, err := stream.Next(runCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.fail(h, err)
		}
		if !p.book.WriteReply(h, chunk.Content) {
			log.Info("reply target disappeared, dropping stream")
			return Result{Handle: h, State: StateFailed, Content: chunk.Content}, ErrTargetGone
		}
		p.emit(Event{Kind: EventChunk, State: StateStreaming, Handle: h, Content: chunk.Content})
	}

	content := stream.Content()
	if !p.book.FinalizeReply(h, content, p.now()) {
		log.Info("reply target disappeared before finalizing")
		return Result{Handle: h, State: StateFailed, Content: content}, ErrTargetGone
	}
	if strings.TrimSpace(content) == "" {
		content = model.FallbackContent
	}
	p.setState(StateFinalized)
	p.emit(Event{Kind: EventFinalized, State: StateFinalized, Handle: h, Content: content})
	log.Debug("reply finished", "lines", stream.Lines())

	return Result{Handle: h, State: StateFinalized, Content: content}, nil
}

// fail records err as a new assistant message and invalidates the session
// on 401.
func (p *Pipeline) fail(h conversation.Handle, err error) (Result, error) {
	p.setState(StateFailed)

	expired := api.IsSessionExpired(err)
	if expired {
		p.session.Invalidate("")
	}
	p.book.AppendError(h.ConversationID, Describe(err))

	if expired {
		logger.Info("send rejected, session expired", "conversation", h.ConversationID)
	} else {
		logger.Warn("send failed", "conversation", h.ConversationID, "err", err)
	}
	p.emit(Event{Kind: EventFailed, State: StateFailed, Handle: h, Err: err})

	var partial string
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		partial = apiErr.Partial
	}
	return Result{Handle: h, State: StateFailed, Content: partial}, err
}

// Describe renders err for the assistant error message.
func Describe(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case api.IsSessionExpired(err):
		return "session expired, please log in again"
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Description()
	}
	return err.Error()
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) emit(e Event) {
	p.mu.Lock()
	listeners := append([]func(Event){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

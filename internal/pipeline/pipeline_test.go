// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/model"
	"github.com/jeranaias/agrochat/internal/session"
	"github.com/jeranaias/agrochat/internal/storage"
)

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	p       *Pipeline
	book    *conversation.Book
	session *session.Manager
	calls   *atomic.Int32
}

type verifierFunc func(ctx context.Context, token string) (*api.User, error)

func (f verifierFunc) CurrentUser(ctx context.Context, token string) (*api.User, error) {
	return f(ctx, token)
}

// newHarness wires a real book, session and client against handler. The
// session is logged in unless loggedIn is false.
func newHarness(t *testing.T, loggedIn bool, handler http.HandlerFunc) *harness {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), storage.FileStoreName))
	require.NoError(t, err)
	book, err := conversation.Open(store)
	require.NoError(t, err)

	sess := session.NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		return &api.User{ID: "1", Username: "ana"}, nil
	}))
	if loggedIn {
		status, err := sess.Login(context.Background(), "tok")
		require.NoError(t, err)
		require.Equal(t, session.StatusAuthenticated, status)
	} else {
		sess.CheckAuth(context.Background())
	}

	client := api.NewClient(api.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	return &harness{p: New(book, sess, client), book: book, session: sess, calls: &calls}
}

// streamLines writes each line and flushes.
func streamLines(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			io.WriteString(w, l)
			w.(http.Flusher).Flush()
		}
	}
}

// =============================================================================
// SUCCESS PATH
// =============================================================================

func TestSend_HolaCreatesConversation(t *testing.T) {
	h := newHarness(t, true, streamLines("data: Hola\n", "data:  mundo\n", "data: [DONE]\n"))

	res, err := h.p.Send(context.Background(), "", "Hola")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, res.State)
	assert.Equal(t, "Hola mundo", res.Content)

	conv, ok := h.book.Get(res.Handle.ConversationID)
	require.True(t, ok)
	assert.Equal(t, conv.ID, h.book.CurrentID())
	assert.Equal(t, "Hola", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hola", conv.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hola mundo", conv.Messages[1].Content)
	assert.Equal(t, StateIdle, h.p.State())
}

func TestSend_MessagesAppendedBeforeResponse(t *testing.T) {
	var h *harness
	seen := make(chan *model.Conversation, 1)
	h = newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		id := h.book.CurrentID()
		c, _ := h.book.Get(id)
		seen <- c
		streamLines("data: ok\n")(w, r)
	})

	_, err := h.p.Send(context.Background(), "", "¿Qué fertilizante uso?")
	require.NoError(t, err)

	c := <-seen
	require.NotNil(t, c)
	require.Len(t, c.Messages, 2, "user message and placeholder exist while the request is in flight")
	assert.Equal(t, model.RoleUser, c.Messages[0].Role)
	assert.True(t, c.Messages[1].IsPlaceholder())
}

func TestSend_EmptyReplyGetsFallback(t *testing.T) {
	h := newHarness(t, true, streamLines("data: \n", "data:    \n"))

	res, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)

	c, _ := h.book.Get(res.Handle.ConversationID)
	assert.Equal(t, model.FallbackContent, c.Messages[1].Content)
	assert.Equal(t, model.FallbackContent, res.Content)
}

func TestSend_NoDataLinesGetsFallback(t *testing.T) {
	h := newHarness(t, true, streamLines(""))

	res, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)
	c, _ := h.book.Get(res.Handle.ConversationID)
	assert.Equal(t, model.FallbackContent, c.Messages[1].Content)
	assert.Equal(t, model.FallbackContent, res.Content)
}

func TestSend_EllipsisReplyIsKept(t *testing.T) {
	h := newHarness(t, true, streamLines("data: ...\n", "data: [DONE]\n"))

	res, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)
	c, _ := h.book.Get(res.Handle.ConversationID)
	assert.Equal(t, "...", c.Messages[1].Content, "a reply equal to the placeholder text is still a reply")
	assert.Equal(t, "...", res.Content)
}

func TestSend_IgnoresBytesAfterDone(t *testing.T) {
	h := newHarness(t, true, streamLines("data: uno\n", "data: [DONE]\n", "data: dos\n"))

	res, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)
	c, _ := h.book.Get(res.Handle.ConversationID)
	assert.Equal(t, "uno", c.Messages[1].Content)
}

func TestSend_FinalTimestamp(t *testing.T) {
	h := newHarness(t, true, streamLines("data: listo\n"))
	fixed := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	h.p.now = func() time.Time { return fixed }

	res, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)
	c, _ := h.book.Get(res.Handle.ConversationID)
	assert.True(t, c.Messages[1].Timestamp.Equal(fixed))
}

func TestSend_ChunkEventsInOrder(t *testing.T) {
	h := newHarness(t, true, streamLines("data: a\n", "data: b\n", "data: c\n", "data: [DONE]\n"))

	var contents []string
	var states []State
	h.p.OnEvent(func(e Event) {
		switch e.Kind {
		case EventChunk:
			contents = append(contents, e.Content)
		case EventState, EventFinalized:
			states = append(states, e.State)
		}
	})

	_, err := h.p.Send(context.Background(), "", "hola")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "abc"}, contents)
	assert.Equal(t, []State{StateSending, StateStreaming, StateFinalized, StateIdle}, states)
}

func TestSend_SecondMessageKeepsTitle(t *testing.T) {
	h := newHarness(t, true, streamLines("data: ok\n"))

	first, err := h.p.Send(context.Background(), "", "Riego del aguacate")
	require.NoError(t, err)
	_, err = h.p.Send(context.Background(), first.Handle.ConversationID, "¿Y en invierno?")
	require.NoError(t, err)

	c, _ := h.book.Get(first.Handle.ConversationID)
	assert.Equal(t, "Riego del aguacate", c.Title)
	assert.Len(t, c.Messages, 4)
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestSend_EmptyInputIsSilent(t *testing.T) {
	h := newHarness(t, true, streamLines("data: x\n"))

	_, err := h.p.Send(context.Background(), "", "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, h.book.Len())
	assert.Zero(t, h.calls.Load())
}

func TestSend_UnauthenticatedFailsBeforeMutation(t *testing.T) {
	h := newHarness(t, false, streamLines("data: x\n"))
	existing, err := h.book.Create()
	require.NoError(t, err)

	_, err = h.p.Send(context.Background(), existing.ID, "hola")
	require.Error(t, err)
	assert.True(t, api.IsAuth(err))
	assert.Zero(t, h.calls.Load(), "no request is issued")

	c, _ := h.book.Get(existing.ID)
	assert.Empty(t, c.Messages)
	assert.Equal(t, 1, h.book.Len())
	assert.Equal(t, StateIdle, h.p.State())
}

func TestSend_RejectsConcurrentSend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		streamLines("data: ok\n")(w, r)
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.p.Send(context.Background(), "", "primero")
		done <- err
	}()
	<-entered

	assert.True(t, h.p.Busy())
	_, err := h.p.Send(context.Background(), "", "segundo")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.book.Len(), "the rejected send created nothing")
	assert.Equal(t, int32(1), h.calls.Load())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSend_401LogsOutAndBlocksNextSend(t *testing.T) {
	h := newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Token expired"}`)
	})

	var expiredNotice string
	h.session.OnExpired(func(reason string) { expiredNotice = reason })

	res, err := h.p.Send(context.Background(), "", "hola")
	require.Error(t, err)
	assert.True(t, api.IsSessionExpired(err))
	assert.Equal(t, StateFailed, res.State)

	c, _ := h.book.Get(res.Handle.ConversationID)
	require.Len(t, c.Messages, 3)
	assert.True(t, c.Messages[1].IsPlaceholder(), "placeholder is left untouched")
	assert.True(t, c.Messages[2].Error)
	assert.True(t, strings.HasPrefix(c.Messages[2].Content, model.ErrorPrefix))

	assert.Equal(t, session.StatusUnauthenticated, h.session.Status())
	assert.Nil(t, h.session.User())
	assert.Equal(t, session.ExpiredNotice, expiredNotice)

	_, err = h.p.Send(context.Background(), res.Handle.ConversationID, "otra vez")
	assert.True(t, api.IsAuth(err))
	c, _ = h.book.Get(res.Handle.ConversationID)
	assert.Len(t, c.Messages, 3, "no messages added by the rejected send")
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestSend_ServerErrorKeepsSession(t *testing.T) {
	h := newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model offline"}`)
	})

	res, err := h.p.Send(context.Background(), "", "hola")
	require.Error(t, err)
	assert.True(t, api.IsServer(err))
	assert.Equal(t, 500, api.StatusOf(err))

	c, _ := h.book.Get(res.Handle.ConversationID)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, model.ErrorPrefix+"model offline (HTTP 500)", c.Messages[2].Content)
	assert.Equal(t, session.StatusAuthenticated, h.session.Status())
	assert.Equal(t, StateIdle, h.p.State())
}

func TestSend_NetworkError(t *testing.T) {
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), storage.FileStoreName))
	require.NoError(t, err)
	book, err := conversation.Open(store)
	require.NoError(t, err)
	sess := session.NewManager(store, verifierFunc(func(ctx context.Context, token string) (*api.User, error) {
		return &api.User{ID: "1"}, nil
	}))
	_, err = sess.Login(context.Background(), "tok")
	require.NoError(t, err)

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	p := New(book, sess, api.NewClient(api.Config{BaseURL: url, Timeout: time.Second}))
	res, err := p.Send(context.Background(), "", "hola")
	require.Error(t, err)
	assert.True(t, api.IsNetwork(err))

	c, _ := book.Get(res.Handle.ConversationID)
	require.Len(t, c.Messages, 3)
	assert.True(t, c.Messages[2].Error)
	assert.Equal(t, session.StatusAuthenticated, sess.Status())
}

func TestSend_StreamBreaksMidway(t *testing.T) {
	h := newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: parcial\n")
		w.(http.Flusher).Flush()
		// Dropping the connection mid-body.
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	})

	// A torn chunked body surfaces as a read error after the 2xx.
	res, err := h.p.Send(context.Background(), "", "hola")
	require.Error(t, err)
	assert.True(t, api.IsStream(err))

	c, _ := h.book.Get(res.Handle.ConversationID)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, "parcial", c.Messages[1].Content, "partial reply stays in the placeholder")
	assert.True(t, c.Messages[2].Error)
}

func TestSend_Cancel(t *testing.T) {
	var h *harness
	h = newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: primero\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	h.p.OnEvent(func(e Event) {
		if e.Kind == EventChunk {
			h.p.Cancel()
		}
	})

	res, err := h.p.Send(context.Background(), "", "hola")
	require.Error(t, err)
	assert.True(t, api.IsStream(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateIdle, h.p.State())

	c, _ := h.book.Get(res.Handle.ConversationID)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, model.ErrorPrefix+"cancelled", c.Messages[2].Content)
}

func TestSend_TargetDeletedMidStream(t *testing.T) {
	deleted := make(chan struct{})
	var h *harness
	h = newHarness(t, true, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: uno\n")
		w.(http.Flusher).Flush()
		<-deleted
		io.WriteString(w, "data: dos\n")
		w.(http.Flusher).Flush()
	})
	var once sync.Once
	h.p.OnEvent(func(e Event) {
		if e.Kind == EventChunk {
			once.Do(func() {
				assert.NoError(t, h.book.Delete(e.Handle.ConversationID))
				close(deleted)
			})
		}
	})

	_, err := h.p.Send(context.Background(), "", "hola")
	assert.ErrorIs(t, err, ErrTargetGone)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, h.book.Len(), "nothing was written into a recreated conversation")
	assert.Equal(t, StateIdle, h.p.State())
}

// =============================================================================
// DESCRIBE
// =============================================================================

func TestDescribe(t *testing.T) {
	assert.Equal(t, "cancelled", Describe(&api.Error{Kind: api.KindStream, Cause: context.Canceled}))
	assert.Equal(t, "timed out", Describe(&api.Error{Kind: api.KindNetwork, Cause: context.DeadlineExceeded}))
	assert.Equal(t, "session expired, please log in again", Describe(&api.Error{Kind: api.KindSessionExpired, Status: 401}))
	assert.Equal(t, "bad gateway (HTTP 502)", Describe(&api.Error{Kind: api.KindServer, Status: 502, Detail: "bad gateway"}))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

// collect runs a stream to completion and returns every chunk's Text.
func collect(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var texts []string
	for {
		c, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return texts, nil
		}
		if err != nil {
			return texts, err
		}
		texts = append(texts, c.Text)
	}
}

// =============================================================================
// FRAMING
// =============================================================================

func TestStream_HolaMundo(t *testing.T) {
	s := NewStream(strings.NewReader("data: Hola\ndata:  mundo\ndata: [DONE]\n"))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hola", " mundo"}, texts)
	assert.Equal(t, "Hola mundo", s.Content())
}

func TestStream_ContentIsAccumulated(t *testing.T) {
	s := NewStream(strings.NewReader("data: a\ndata: b\ndata: c\n"))
	var contents []string
	for {
		c, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		contents = append(contents, c.Content)
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, contents)
}

func TestStream_BytesAfterDoneIgnored(t *testing.T) {
	s := NewStream(strings.NewReader("data: uno\ndata: [DONE]\ndata: dos\ngarbage"))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"uno"}, texts)
	assert.Equal(t, "uno", s.Content())

	// Further calls keep reporting EOF.
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_IgnoresNonDataLines(t *testing.T) {
	body := ": keep-alive\nevent: message\n\ndata:nospace\nDATA: upper\ndata: ok\n"
	s := NewStream(strings.NewReader(body))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, texts)
}

func TestStream_CRLF(t *testing.T) {
	s := NewStream(strings.NewReader("data: uno\r\ndata: dos\r\n"))
	_, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, "unodos", s.Content())
}

func TestStream_UnterminatedLastLine(t *testing.T) {
	s := NewStream(strings.NewReader("data: uno\ndata: final"))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"uno", "final"}, texts)
}

func TestStream_SplitAcrossReads(t *testing.T) {
	// OneByteReader delivers every byte in its own Read call.
	r := iotest.OneByteReader(strings.NewReader("data: Hola\ndata:  mundo\n"))
	s := NewStream(r)
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hola", " mundo"}, texts)
}

func TestStream_EmptyBody(t *testing.T) {
	s := NewStream(strings.NewReader(""))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Empty(t, texts)
	assert.Equal(t, "", s.Content())
}

func TestStream_EmptyPayloadCounts(t *testing.T) {
	s := NewStream(strings.NewReader("data: \ndata: x\n"))
	texts, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "x"}, texts)
}

func TestStream_DoneMustBeWholePayload(t *testing.T) {
	s := NewStream(strings.NewReader("data: [DONE] not really\ndata: more\n"))
	_, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, "[DONE] not reallymore", s.Content())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestStream_ReadErrorKeepsPartial(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: parcial\n"), iotest.ErrReader(boom))
	s := NewStream(r)

	c, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "parcial", c.Content)

	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.True(t, IsStream(err))
	assert.ErrorIs(t, err, boom)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "parcial", apiErr.Partial)

	// Errors are sticky.
	_, again := s.Next(context.Background())
	assert.Equal(t, err, again)
}

func TestStream_LineTooLong(t *testing.T) {
	long := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n"
	s := NewStream(strings.NewReader(long))
	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.True(t, IsStream(err))
	assert.ErrorIs(t, err, errLineTooLong)
}

func TestStream_CancelledContext(t *testing.T) {
	s := NewStream(strings.NewReader("data: never\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Next(ctx)
	require.Error(t, err)
	assert.True(t, IsStream(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_IdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	cancelled := make(chan struct{})
	s := newStream(pr, func() {
		select {
		case <-cancelled:
		default:
			close(cancelled)
			pr.CloseWithError(errors.New("closed"))
		}
	}, 50*time.Millisecond)

	go func() {
		pw.Write([]byte("data: hola\n"))
	}()

	c, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hola", c.Content)

	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.True(t, IsStream(err))
	assert.Contains(t, err.Error(), "no data for")
}

func TestStream_CloseIdempotent(t *testing.T) {
	s := NewStream(strings.NewReader("data: a\n"))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestStream_Collect(t *testing.T) {
	s := NewStream(strings.NewReader("data: a\ndata: b\ndata: [DONE]\n"))
	content, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ab", content)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// DataPrefix starts every payload line. Other lines are ignored.
	DataPrefix = "data: "

	// DoneSentinel as a whole payload ends the stream.
	DoneSentinel = "[DONE]"

	// MaxLineSize is the longest accepted line (64KB).
	MaxLineSize = 64 * 1024
)

// errLineTooLong is the cause of a KindStream error for oversized lines.
var errLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineSize)

// =============================================================================
// STREAM
// =============================================================================

// Chunk is one decoded increment.
type Chunk struct {
	// Text is the payload of this line with the prefix stripped.
	Text string

	// Content is the concatenation of every payload so far, in arrival
	// order. Writers replace their view with it rather than appending Text.
	Content string
}

// Stream iterates over the payload lines of an interpret response.
//
// Lines are split on '\n' across reads, so a payload cut between two
// network reads is joined before decoding. A trailing '\r' is dropped and an
// unterminated last line is still decoded at EOF. Nothing after the done
// sentinel is read.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc

	content strings.Builder
	done    bool
	err     error
	lines   int

	idle      time.Duration
	idleTimer *time.Timer
	idleFired atomic.Bool

	closeOnce sync.Once
}

// NewStream wraps any reader, for callers that already hold a body.
func NewStream(r io.Reader) *Stream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return newStream(rc, func() {}, 0)
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *Stream {
	s := &Stream{
		body:   body,
		reader: bufio.NewReaderSize(body, 4096),
		cancel: cancel,
		idle:   idle,
	}
	if idle > 0 {
		s.idleTimer = time.AfterFunc(idle, func() {
			s.idleFired.Store(true)
			cancel()
		})
	}
	return s
}

// Next returns the next payload. It returns io.EOF after the done sentinel
// or the end of the body, and a KindStream *Error when reading fails or ctx
// is cancelled. Errors are sticky.
func (s *Stream) Next(ctx context.Context) (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if s.err != nil {
		return Chunk{}, s.err
	}

	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, s.fail(err)
		}

		line, readErr := s.readLine()
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				readErr = ctxErr
			} else if s.idleFired.Load() {
				readErr = fmt.Errorf("no data for %s", s.idle)
			}
			return Chunk{}, s.fail(readErr)
		}
		if line != nil {
			s.lines++
			s.touch()
		}

		if payload, ok := parseDataLine(line); ok {
			if payload == DoneSentinel {
				s.finish()
				return Chunk{}, io.EOF
			}
			s.content.WriteString(payload)
			if errors.Is(readErr, io.EOF) {
				// Deliver the final unterminated line now, EOF on the next call.
				s.finish()
			}
			return Chunk{Text: payload, Content: s.content.String()}, nil
		}

		if errors.Is(readErr, io.EOF) {
			s.finish()
			return Chunk{}, io.EOF
		}
	}
}

// Content returns everything accumulated so far.
func (s *Stream) Content() string {
	return s.content.String()
}

// Lines returns how many lines have been read, data or not.
func (s *Stream) Lines() int {
	return s.lines
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// readLine returns the next line without its terminator. At EOF it returns
// the unterminated remainder, or nil when there is none, with io.EOF.
func (s *Stream) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := s.reader.ReadSlice('\n')
		if len(line)+len(frag) > MaxLineSize {
			return nil, errLineTooLong
		}
		line = append(line, frag...)

		switch {
		case err == nil:
			return trimEOL(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return trimEOL(line), io.EOF
		default:
			return nil, err
		}
	}
}

func (s *Stream) touch() {
	if s.idleTimer != nil && !s.idleFired.Load() {
		s.idleTimer.Reset(s.idle)
	}
}

// finish marks the stream complete and drops the connection so no bytes
// after the sentinel are consumed.
func (s *Stream) finish() {
	s.done = true
	s.Close()
}

func (s *Stream) fail(cause error) error {
	s.err = &Error{Kind: KindStream, Op: "interpret", Partial: s.content.String(), Cause: cause}
	s.Close()
	return s.err
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// parseDataLine strips DataPrefix. Lines without it are not payloads.
func parseDataLine(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return "", false
	}
	return string(line[len(DataPrefix):]), true
}

// Collect drains the stream and returns the full content.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	defer s.Close()
	for {
		if _, err := s.Next(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return s.Content(), nil
			}
			return s.Content(), err
		}
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.RWMutex
	current = newLogger(os.Stderr, log.InfoLevel)
	closer  io.Closer
)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
		Prefix:          "agrochat",
	})
	return l
}

// Configure sets the level and destination. An empty file keeps stderr.
// The file is opened in append mode with owner-only permissions.
func Configure(level, file string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	var c io.Closer
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out, c = f, f
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	current = newLogger(out, lvl)
	closer = c
	return nil
}

// SetOutput redirects logging, mainly for tests.
func SetOutput(w io.Writer, level log.Level) {
	mu.Lock()
	defer mu.Unlock()
	current = newLogger(w, level)
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(level string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return log.InfoLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// L returns the current logger.
func L() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// With returns a child logger carrying the given key-value pairs.
func With(keyvals ...interface{}) *log.Logger {
	return L().With(keyvals...)
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg interface{}, keyvals ...interface{}) {
	L().Debug(msg, keyvals...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg interface{}, keyvals ...interface{}) {
	L().Info(msg, keyvals...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg interface{}, keyvals ...interface{}) {
	L().Warn(msg, keyvals...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg interface{}, keyvals ...interface{}) {
	L().Error(msg, keyvals...)
}

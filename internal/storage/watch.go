// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/agrochat/internal/logger"
)

// DefaultWatchDebounce coalesces the burst of events one atomic write causes.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the store whenever the backing file changes on disk and then
// calls onChange. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file, since atomic renames
// replace the inode the file watch would be attached to.
func (s *FileStore) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case <-timer.C:
			if err := s.Reload(); err != nil {
				logger.Warn("store reload failed", "path", s.path, "err", err)
				continue
			}
			if onChange != nil {
				onChange()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("store watcher error", "err", err)
		}
	}
}

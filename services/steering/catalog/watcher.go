// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/horus/services/steering/dials"
)

// ReloadHandler is called after a successful hot reload with the freshly
// loaded catalog. The handler runs on the watcher goroutine and must not
// block; a typical handler pushes the catalog into a dial store.
type ReloadHandler func(cat dials.Catalog)

// Watcher hot-reloads an external catalog file when it changes on disk.
//
// # Description
//
// Watches the directory containing the catalog file (editors replace
// files via rename, so watching the file itself misses most saves) and
// reloads the registry after a debounce window. A burst of writes from
// an editor save triggers a single reload.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run on a single goroutine.
type Watcher struct {
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadHandler
	logger   *slog.Logger

	changes  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long to wait for more file events before
// reloading. Default: 100ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHandler sets the handler called after each successful reload.
func WithReloadHandler(fn ReloadHandler) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher for the registry's external catalog path.
//
// Outputs:
//
//	*Watcher - Ready-to-use watcher (call Start to begin watching).
//	error - Non-nil if the registry has no external path or the
//	        filesystem watcher could not be created.
func NewWatcher(registry *Registry, opts ...WatcherOption) (*Watcher, error) {
	path := registry.Path()
	if path == "" {
		return nil, fmt.Errorf("NewWatcher: registry has no external catalog path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("NewWatcher: resolving path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		registry: registry,
		path:     absPath,
		watcher:  fsWatcher,
		debounce: 100 * time.Millisecond,
		logger:   registry.logger,
		changes:  make(chan struct{}, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching the catalog file for changes.
//
// Spawns two goroutines, an event filter and a debouncer. Both exit when
// Stop is called or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("Start: watching catalog directory: %w", err)
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// processEvents filters fsnotify events down to the catalog file and
// signals the debouncer.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			select {
			case w.changes <- struct{}{}:
			default:
				// A reload is already pending; coalescing is the point.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop coalesces change signals and reloads after a quiet window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.changes:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)
		}
	}
}

// reload re-reads the catalog and notifies the handler on success. A
// failed reload keeps the previous catalog active.
func (w *Watcher) reload(ctx context.Context) {
	if err := w.registry.Reload(ctx); err != nil {
		catalogReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("catalog hot reload failed, keeping previous catalog",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	catalogReloadsTotal.WithLabelValues("ok").Inc()
	w.logger.Info("catalog hot reloaded", slog.String("path", w.path))

	if w.onReload != nil {
		cat, err := w.registry.Catalog(ctx)
		if err != nil {
			return
		}
		w.onReload(cat)
	}
}

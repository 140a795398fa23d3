// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports visibility files as they settle in an inbox
// directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNotDirectory is returned when the watched path is not a directory.
var ErrNotDirectory = errors.New("watch path is not a directory")

// Options configures a Watcher.
type Options struct {
	// Pattern is a filepath.Match pattern on the base name.
	// Default: "*.vis"
	Pattern string

	// Debounce is how long a file must go without create or write events
	// before it is reported.
	// Default: 2s
	Debounce time.Duration

	// IncludeExisting reports files already present when Run starts,
	// in name order.
	IncludeExisting bool
}

// DefaultOptions returns the inbox defaults.
func DefaultOptions() Options {
	return Options{Pattern: "*.vis", Debounce: 2 * time.Second}
}

// Handler receives one settled file. Handlers run one at a time on the
// Run goroutine.
type Handler func(ctx context.Context, path string)

// Watcher watches one directory, without recursion.
//
// Description:
//
//	Events are collected per path. A path is reported once Debounce has
//	passed since its last create or write event. Remove and rename drop a
//	pending path. Reports keep first-arrival order.
//
// Thread Safety: Run must be called at most once. Close is safe to call
// from any goroutine.
type Watcher struct {
	dir     string
	opts    Options
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	closeMu sync.Once
}

// New starts watching dir.
//
// Inputs:
//
//	dir - An existing directory.
//	opts - Zero fields take DefaultOptions values.
//	logger - Nil uses slog.Default().
//
// Outputs:
//
//	*Watcher - Call Run to receive files.
//	error - ErrNotDirectory, a bad pattern, or an fsnotify error.
func New(dir string, opts Options, logger *slog.Logger) (*Watcher, error) {
	defaults := DefaultOptions()
	if opts.Pattern == "" {
		opts.Pattern = defaults.Pattern
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("watch pattern %q: %w", opts.Pattern, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{dir: dir, opts: opts, fsw: fsw, logger: logger}, nil
}

// Close stops the underlying watcher. Run returns soon after.
func (w *Watcher) Close() error {
	var err error
	w.closeMu.Do(func() { err = w.fsw.Close() })
	return err
}

// Run dispatches settled files to handle until ctx is done or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.Close()

	if w.opts.IncludeExisting {
		existing, err := w.existing()
		if err != nil {
			return err
		}
		for _, path := range existing {
			if ctx.Err() != nil {
				return nil
			}
			handle(ctx, path)
		}
	}

	tick := w.opts.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	var order []string

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.matches(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if _, seen := pending[event.Name]; !seen {
					order = append(order, event.Name)
				}
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("dir", w.dir), slog.String("error", err.Error()))

		case now := <-ticker.C:
			kept := order[:0]
			var ready []string
			for _, path := range order {
				last, ok := pending[path]
				switch {
				case !ok:
				case now.Sub(last) >= w.opts.Debounce:
					ready = append(ready, path)
					delete(pending, path)
				default:
					kept = append(kept, path)
				}
			}
			order = kept
			for _, path := range ready {
				handle(ctx, path)
			}
		}
	}
}

func (w *Watcher) matches(path string) bool {
	ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(path))
	return ok
}

func (w *Watcher) existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", w.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.matches(e.Name()) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

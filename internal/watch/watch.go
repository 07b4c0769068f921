// Package watch re-runs a sync whenever the source tree changes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/repo"
)

// DefaultDelay is the quiet period before a change triggers a sync
const DefaultDelay = 2 * time.Second

// SyncFunc performs one complete sync run
type SyncFunc func(ctx context.Context) error

// Watcher drives debounced, single-flight syncs from filesystem events
type Watcher struct {
	root        string
	run         SyncFunc
	logger      *slog.Logger
	skip        func(path string) bool
	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool
	syncPending bool
	debounce    *debouncer
}

// Option configures a Watcher
type Option func(*Watcher)

// WithSkip drops events for paths the predicate matches
func WithSkip(skip func(path string) bool) Option {
	return func(w *Watcher) { w.skip = skip }
}

// SkipUnsynced matches the paths below root that a sync never reads:
// ignored and bound subtrees. root is the source directory synced to base.
func SkipUnsynced(root string, base pathutil.RelPath, cfg *repo.Config) func(path string) bool {
	return func(path string) bool {
		p, err := pathutil.FromOS(root, path)
		if err != nil {
			return false
		}
		switch cfg.Lookup(base.JoinPath(p)).Mode {
		case entry.ModeIgnore, entry.ModeBind:
			return true
		}
		return false
	}
}

// New creates a watcher for the tree at root
func New(root string, run SyncFunc, delay time.Duration, logger *slog.Logger, opts ...Option) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	w := &Watcher{
		root:     root,
		run:      run,
		logger:   logger,
		skip:     func(string) bool { return false },
		debounce: &debouncer{delay: delay},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start performs an initial sync and then re-syncs on changes until ctx
// is cancelled. It returns once no sync is running anymore.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	w.logger.Info("performing initial sync before watching", "root", w.root)
	w.performSync(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			w.debounce.stop()
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				w.debounce.stop()
				return nil
			}
			w.handleEvent(ctx, fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				w.debounce.stop()
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if w.ownFile(ev.Name) || w.skip(ev.Name) {
		return
	}
	w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	w.debounce.trigger(func() {
		w.performSync(ctx)
	})
}

// ownFile matches the files a sync writes itself, which would otherwise
// trigger the next run
func (w *Watcher) ownFile(path string) bool {
	base := filepath.Base(path)
	if base == repo.IndexFilename || repo.IsIndexTemp(base) {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return rel == repo.StateDirname || strings.HasPrefix(rel, repo.StateDirname+string(filepath.Separator))
}

// addTree watches dir and every directory below it. fsnotify watches are
// not recursive.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ownFile(path) || w.skip(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// performSync runs the sync with single-flight semantics. While a run is
// in progress at most one more run is queued.
func (w *Watcher) performSync(ctx context.Context) {
	w.syncMu.Lock()
	if w.syncRunning {
		w.syncPending = true
		w.syncMu.Unlock()
		w.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	w.syncRunning = true
	w.syncMu.Unlock()

	for {
		if ctx.Err() != nil {
			w.syncMu.Lock()
			w.syncRunning = false
			w.syncPending = false
			w.syncMu.Unlock()
			return
		}

		w.logger.Info("performing sync")
		start := time.Now()
		if err := w.run(ctx); err != nil {
			w.logger.Error("sync failed", "error", err)
		} else {
			w.logger.Info("sync completed successfully", "duration", time.Since(start))
		}

		w.syncMu.Lock()
		if !w.syncPending {
			w.syncRunning = false
			w.syncMu.Unlock()
			break
		}
		w.syncPending = false
		w.syncMu.Unlock()

		w.logger.Info("re-running sync due to pending request")
	}
}

// debouncer collapses bursts of triggers into one callback
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
	stopped  bool
	inflight sync.WaitGroup
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback

	if d.timer != nil && d.timer.Stop() {
		d.inflight.Done()
	}

	d.inflight.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.inflight.Done()

		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback and waits for a running one
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.inflight.Done()
	}
	d.mu.Unlock()

	d.inflight.Wait()
}

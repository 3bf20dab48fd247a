// Package watch re-syncs the corpus when documents appear or change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must go without events before it is
// flushed.
const DefaultDebounce = 2 * time.Second

// Handler receives the names changed since the last flush, sorted.
// Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, changed []string) error

// Config configures a Watcher.
type Config struct {
	Dir      string
	Debounce time.Duration
	// Match filters file names; nil accepts everything.
	Match  func(name string) bool
	Logger *slog.Logger
}

// Watcher collects fsnotify events for one directory and hands a file to the
// Handler once it has been quiet for the debounce period, so a document that
// is still being copied is never synced half written.
type Watcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger

	pendingMu sync.Mutex
	// pending maps a file name to the time of its latest event.
	pending map[string]time.Time
}

// New creates a Watcher. Nothing is watched until Run.
func New(cfg Config, handler Handler) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		pending: make(map[string]time.Time),
	}
}

// Run watches until ctx is done. It returns an error only if the watch
// cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info("watching for document changes", "dir", w.cfg.Dir, "debounce", w.cfg.Debounce)

	ticker := time.NewTicker(checkInterval(w.cfg.Debounce))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, time.Now())

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

// checkInterval is how often pending files are checked for quiescence.
func checkInterval(debounce time.Duration) time.Duration {
	return max(debounce/4, time.Millisecond)
}

func (w *Watcher) handleEvent(event fsnotify.Event, at time.Time) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Base(event.Name)
	if w.cfg.Match != nil && !w.cfg.Match(name) {
		return
	}

	w.pendingMu.Lock()
	w.pending[name] = at
	w.pendingMu.Unlock()
	w.logger.Debug("document changed", "name", name, "op", event.Op.String())
}

// flush hands over the files whose last event is at least Debounce before
// now. Files still receiving events stay pending.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	changed := w.settled(now)
	if len(changed) == 0 {
		return
	}
	if err := w.handler(ctx, changed); err != nil {
		w.logger.Error("sync after change failed", "changed", changed, "error", err)
	}
}

func (w *Watcher) settled(now time.Time) []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	var changed []string
	for name, last := range w.pending {
		if now.Sub(last) >= w.cfg.Debounce {
			changed = append(changed, name)
			delete(w.pending, name)
		}
	}
	slices.Sort(changed)
	return changed
}

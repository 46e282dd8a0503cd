package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"dbvault/internal/logging"
)

// DefaultDebounce collapses the burst of events an atomic rewrite produces
const DefaultDebounce = 250 * time.Millisecond

// Invalidator drops cached state so the next read hits the disk
type Invalidator interface {
	Invalidate()
}

// ChangeListener is told that schedules may have changed
type ChangeListener interface {
	SchedulesChanged()
}

// Watcher follows the state file and reports rewrites made by other
// processes. It watches the parent directory because the store replaces the
// file by rename.
type Watcher struct {
	path     string
	cache    Invalidator
	listener ChangeListener
	logger   *logging.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the state file at path
func NewWatcher(path string, cache Invalidator, listener ChangeListener, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		cache:    cache,
		listener: listener,
		logger:   logger,
		debounce: DefaultDebounce,
	}
}

// Run blocks until ctx ends
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.WithField("path", w.path).Debug("Watching state file")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.cache.Invalidate()
			w.listener.SchedulesChanged()
			w.logger.Debug("State file changed, schedules reloaded")

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithField("error", err.Error()).Warn("State file watcher error")
		}
	}
}

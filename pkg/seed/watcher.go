package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits after the last write before
// re-applying.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-applies a seed file whenever it is written or re-created.
//
// It watches the file's directory rather than the file, so editors that
// save by renaming a temporary file over the original are still seen.
type Watcher struct {
	path     string
	applier  *Applier
	debounce time.Duration
	logger   *logrus.Logger
	watcher  *fsnotify.Watcher

	// applied receives the outcome of every reload. Used by tests.
	applied func(Report, error)
}

// NewWatcher starts watching path. Call Run to process events and Close to
// release the watch.
func NewWatcher(path string, applier *Applier, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve seed path: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		applier:  applier,
		debounce: debounce,
		logger:   applier.logger,
		watcher:  fsw,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.WithField("path", w.path).Info("Watching seed file")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Seed watcher error")
		}
	}
}

// reload applies the file. A file that fails to parse or apply is logged
// and the store is left as it was.
func (w *Watcher) reload(ctx context.Context) {
	doc, err := LoadFile(w.path)
	var report Report
	if err == nil {
		report, err = w.applier.Apply(ctx, doc)
	}
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Warn("Seed reload failed")
	}
	if w.applied != nil {
		w.applied(report, err)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

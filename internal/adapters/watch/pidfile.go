// Package watch triggers status refreshes when the tunnel's pid file changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anyportal/tproxyctl/pkg/log"
)

// DefaultDebounce is the quiet period after the last pid file event.
const DefaultDebounce = 250 * time.Millisecond

// Refresher re-probes the tunnel.
type Refresher interface {
	RefreshStatus(ctx context.Context) (bool, error)
}

// PIDFileWatcher watches a pid file and refreshes the tunnel status when it
// is created, written, removed or renamed. The parent directory is watched
// so the file may appear and disappear freely.
type PIDFileWatcher struct {
	path      string
	debounce  time.Duration
	refresher Refresher
	logger    log.Logger

	mu    sync.Mutex
	timer *time.Timer
	wg    sync.WaitGroup
}

// NewPIDFileWatcher creates a watcher for path. A non-positive debounce uses
// DefaultDebounce.
func NewPIDFileWatcher(path string, debounce time.Duration, refresher Refresher, logger log.Logger) *PIDFileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &PIDFileWatcher{
		path:      filepath.Clean(path),
		debounce:  debounce,
		refresher: refresher,
		logger:    logger,
	}
}

// Run watches until ctx is cancelled. It returns an error only if the
// watch cannot be established.
func (w *PIDFileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching pid file", log.String("path", w.path))
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("pid file changed", log.String("op", event.Op.String()))
			w.schedule(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("pid file watcher error", log.Err(err))
		}
	}
}

// schedule restarts the debounce timer.
func (w *PIDFileWatcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}

	w.wg.Add(1)
	w.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		if ctx.Err() != nil {
			return
		}
		running, err := w.refresher.RefreshStatus(ctx)
		if err != nil {
			w.logger.Warn("refresh after pid file change failed", log.Err(err))
			return
		}
		w.logger.Debug("refreshed after pid file change", log.Bool("running", running))
	})
}

// stop cancels a pending refresh and waits for a running one.
func (w *PIDFileWatcher) stop() {
	w.mu.Lock()
	if w.timer != nil && w.timer.Stop() {
		w.wg.Done()
	}
	w.timer = nil
	w.mu.Unlock()

	w.wg.Wait()
}

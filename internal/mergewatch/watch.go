// Package mergewatch provides a filesystem watcher that invokes a callback
// when mergeq/queue.json changes. The Merge Daemon does not use it: the
// daemon notices new queue entries through its timer-based poll loop alone.
package mergewatch

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/v0dev/v0core/internal/constants"
)

// Watcher wakes a callback whenever the queue file changes.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback func()
}

// New constructs a Watcher over mergeqDir's queue file. callback is invoked
// (non-blocking, from Start's goroutine) on every write/create/rename
// event.
func New(mergeqDir string, callback func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Join(mergeqDir, constants.QueueFileName),
		watcher:  fw,
		callback: callback,
	}, nil
}

// Start watches the queue file's parent directory (so a temp+rename cycle
// is visible even though the file itself is replaced, not edited in place)
// until ctx is cancelled. Should be run in a goroutine; watch failures are
// non-fatal since the poll loop remains correct without this accelerant.
func (w *Watcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(w.path) {
				w.callback()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-ctx.Done():
			_ = w.watcher.Close()
			return
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

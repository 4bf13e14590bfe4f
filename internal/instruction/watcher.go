package instruction

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups the burst of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Cache when its instruction file changes on disk.
type Watcher struct {
	cache    *Cache
	src      FileSource
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the directory holding src.Path. The directory is
// watched instead of the file so atomic replace-on-save is seen.
func NewWatcher(cache *Cache, src FileSource, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(src.Path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{cache: cache, src: src, debounce: debounce, fsw: fsw}, nil
}

// Run processes file events until ctx is done. It always closes the
// underlying watcher before returning.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.cache.log.Error("Error closing instruction watcher", "error", err)
		}
	}()

	target := filepath.Clean(w.src.Path)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.cache.log.Info("Watching instruction file", "path", target)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.cache.log.Warn("Instruction watcher error", "error", err)
		case <-timer.C:
			// Reload logs its own failures and keeps the previous snapshot.
			_ = w.cache.Reload(w.src)
		}
	}
}

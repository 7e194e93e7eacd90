package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on the manifest source file's directory
// and calls RefreshRegistry (and onChange, if set via OnChange) whenever
// the file is written or recreated, so manifest edits take effect
// without a restart. Watch blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(r.source)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	target := filepath.Clean(r.source)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.RefreshRegistry(); err != nil {
				r.logger.Error("registry: refresh on fsnotify event failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("registry: fsnotify watch error: %v", err)
		}
	}
}

// OnChange registers a callback fired after every successful
// RefreshRegistry/RegisterAgent/UnregisterAgent; the orchestrator uses it
// to trigger a graph rebuild.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

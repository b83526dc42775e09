package modelselect

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CatalogWatcher reloads the profile catalog file on change and hands the
// fresh Catalog to onChange, so a running headless session picks up
// profile edits without a restart. Mirrors permission.ManifestWatcher.
type CatalogWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// WatchCatalog starts watching path's containing directory for changes.
func WatchCatalog(path string, onChange func(Catalog), logger *slog.Logger) (*CatalogWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("modelselect: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("modelselect: watch %s: %w", path, err)
	}

	cw := &CatalogWatcher{watcher: w, logger: logger.With("component", "modelselect.watcher"), done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				catalog, err := LoadCatalog(path)
				if err != nil {
					cw.logger.Warn("catalog reload failed", "error", err)
					continue
				}
				onChange(catalog)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cw.logger.Warn("catalog watch error", "error", err)
			case <-cw.done:
				return
			}
		}
	}()

	return cw, nil
}

// Close stops the watcher.
func (cw *CatalogWatcher) Close() error {
	cw.once.Do(func() { close(cw.done) })
	return cw.watcher.Close()
}

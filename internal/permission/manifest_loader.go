package permission

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadManifest reads a tool permission manifest from a YAML file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("permission: read manifest %s: %w", path, err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("permission: parse manifest %s: %w", path, err)
	}
	return manifest, nil
}

// ManifestWatcher reloads a manifest file on write/create/rename events and
// hands the new value to onChange, so a running headless session picks up
// toggle edits without a restart. Grounded on the reference's skills
// manager watch loop, narrowed to a single file.
type ManifestWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// WatchManifest starts watching path's containing directory (fsnotify
// requires watching a directory to see atomic rename-based writes) and
// calls onChange with the freshly loaded manifest whenever path changes.
func WatchManifest(path string, onChange func(Manifest), logger *slog.Logger) (*ManifestWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("permission: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("permission: watch %s: %w", path, err)
	}

	mw := &ManifestWatcher{watcher: w, logger: logger.With("component", "permission.watcher"), done: make(chan struct{})}
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
				manifest, err := LoadManifest(path)
				if err != nil {
					mw.logger.Warn("manifest reload failed", "error", err)
					continue
				}
				onChange(manifest)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				mw.logger.Warn("manifest watch error", "error", err)
			case <-mw.done:
				return
			}
		}
	}()

	return mw, nil
}

// Close stops the watcher.
func (mw *ManifestWatcher) Close() error {
	mw.once.Do(func() { close(mw.done) })
	return mw.watcher.Close()
}

package permission

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// manifestDoc is the on-disk shape of a permission manifest file.
type manifestDoc struct {
	Toggles map[string]struct {
		Plugins        []string `yaml:"plugins" json:"plugins"`
		RequiresSecret bool     `yaml:"requires_secret" json:"requires_secret"`
		SecretID       string   `yaml:"secret_id" json:"secret_id"`
		DefaultEnabled bool     `yaml:"default_enabled" json:"default_enabled"`
	} `yaml:"toggles" json:"toggles"`
}

// LoadManifest reads a permission manifest from a YAML or JSON5 file,
// dispatching on extension the same way the rest of the config layer
// does.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission manifest %s: %w", path, err)
	}

	var doc manifestDoc
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".json5" {
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse permission manifest %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse permission manifest %s: %w", path, err)
		}
	}

	manifest := make(Manifest, len(doc.Toggles))
	for id, t := range doc.Toggles {
		manifest[id] = ToggleManifestEntry{
			PluginIDs:      t.Plugins,
			RequiresSecret: t.RequiresSecret,
			SecretID:       t.SecretID,
			DefaultEnabled: t.DefaultEnabled,
		}
	}
	return manifest, nil
}

// Watcher reloads a permission manifest whenever its file changes on
// disk, debouncing bursts of filesystem events.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current Manifest

	watcher *fsnotify.Watcher
	cancel  func()
}

// WatchManifest loads path once and starts watching it for changes. The
// returned Watcher's Current() always reflects the most recently loaded
// manifest; on a reload failure the previous manifest is kept and the
// failure is logged.
func WatchManifest(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create permission manifest watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch permission manifest directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		debounce: 200 * time.Millisecond,
		logger:   logger,
		current:  manifest,
		watcher:  fw,
	}

	done := make(chan struct{})
	w.cancel = func() { close(done) }
	go w.loop(done)

	return w, nil
}

// Current returns the most recently loaded manifest.
func (w *Watcher) Current() Manifest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func (w *Watcher) loop(done <-chan struct{}) {
	var timer *time.Timer
	reload := func() {
		manifest, err := LoadManifest(w.path)
		if err != nil {
			w.logger.Warn("permission manifest reload failed, keeping previous manifest", "path", w.path, "error", err)
			return
		}
		w.mu.Lock()
		w.current = manifest
		w.mu.Unlock()
	}

	for {
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("permission manifest watcher error", "error", err)
		}
	}
}

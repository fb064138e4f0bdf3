package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTargets holds the callbacks a Watcher fires when a watched file
// changes. The relay wires OnRulesChange to clear its firewall.Cache, so
// the next request reloads rules from the database without waiting for
// the cache TTL; the rules file's own contents are not read.
type WatchTargets struct {
	// OnConfigChange fires when the relay's own YAML config file changes.
	OnConfigChange func()
	// OnRulesChange fires when the firewall rules snapshot file changes.
	OnRulesChange func()
}

// Watcher monitors a directory for changes to the relay's config and
// firewall rule files using fsnotify, per the hot-reload pattern in
// spec §9.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher starts watching dir and dispatches to targets as matching
// files change. The watcher runs its event loop in a background
// goroutine; call Close to stop it.
func NewWatcher(dir string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{fsWatcher: fw, done: make(chan struct{})}
	go w.processEvents(targets)

	slog.Info("config watcher started", "dir", dir)
	return w, nil
}

func (w *Watcher) processEvents(targets WatchTargets) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case "relay.yaml":
				slog.Info("relay config changed, triggering reload")
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			case "firewall_rules.yaml":
				slog.Info("firewall rules file changed, invalidating cache")
				if targets.OnRulesChange != nil {
					targets.OnRulesChange()
				}
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

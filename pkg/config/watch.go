package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is called with the path of a changed config file.
type ReloadFunc func(path string)

// Watcher reloads policy and risk configs when their files change.
// Editors save with rename-and-replace, so the watcher watches the
// parent directories and filters by file name.
type Watcher struct {
	paths    map[string]bool
	onChange ReloadFunc
	logger   *slog.Logger

	// debounce coalesces the bursts of events a single save produces.
	debounce time.Duration
}

// NewWatcher creates a watcher over the given files.
func NewWatcher(paths []string, onChange ReloadFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = true
	}
	return &Watcher{
		paths:    set,
		onChange: onChange,
		logger:   logger.With("component", "config.watcher"),
		debounce: 200 * time.Millisecond,
	}
}

// Start watches until the context is cancelled. It returns immediately;
// watching happens on a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
	}

	go func() {
		defer fsw.Close()

		pending := make(map[string]*time.Timer)
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				path := filepath.Clean(event.Name)
				if !w.paths[path] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("config file changed", "path", path, "op", event.Op.String())

				if timer, exists := pending[path]; exists {
					timer.Stop()
				}
				pending[path] = time.AfterFunc(w.debounce, func() {
					w.logger.Info("reloading config", "path", path)
					w.onChange(path)
				})

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("watcher error", "error", err)
			}
		}
	}()

	w.logger.Info("watching config files", "count", len(w.paths))
	return nil
}

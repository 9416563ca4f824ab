package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filerskeepers/bookwatch/internal/logger"
)

// ReloadFunc receives the freshly parsed key/value pairs from the config
// file each time it settles after a change.
type ReloadFunc func(vars map[string]string)

// Watcher monitors the .env config file and invokes a callback when it
// changes on disk. Events are debounced so editors that truncate then
// write, or replace the file through a rename, produce a single reload.
type Watcher struct {
	logger   *logger.Logger
	path     string
	onReload ReloadFunc

	fsw    *fsnotify.Watcher
	settle time.Duration

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher for the given config file path. The parent
// directory is watched rather than the file itself, since a rename-based
// save would otherwise drop the watch.
func NewWatcher(log *logger.Logger, path string, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close() //nolint:errcheck // Cleanup on failure
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		logger:   log,
		path:     abs,
		onReload: onReload,
		fsw:      fsw,
		settle:   500 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing file events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processEvents(ctx)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.scheduleReload()
}

// scheduleReload resets the settle timer so a burst of writes collapses
// into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.reload)
}

func (w *Watcher) reload() {
	vars, err := readEnvFile(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to reload config file", "path", w.path)
		return
	}

	w.logger.Info("Config file changed, applying reloadable settings", "path", w.path)
	w.onReload(vars)
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	close(w.done)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.fsw.Close() //nolint:errcheck // Shutdown path
	w.wg.Wait()
}

// LogLevelReloader returns a ReloadFunc that retunes the logger when
// LOG_LEVEL changes in the config file. Other keys require a restart.
func LogLevelReloader(log *logger.Logger) ReloadFunc {
	return func(vars map[string]string) {
		raw, ok := vars["LOG_LEVEL"]
		if !ok {
			return
		}
		level := logger.ParseLevel(raw)
		if level == log.Level() {
			return
		}
		log.SetLevel(level)
		log.Info("Log level updated", "level", raw)
	}
}

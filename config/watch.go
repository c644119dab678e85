package config

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads an AuthConfig from a YAML file, re-validating and
// atomically swapping the last-good config on every write. A reload that
// fails to parse or validate logs and keeps serving the previous value.
type Watcher struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[AuthConfig]

	mu        sync.Mutex
	listeners []func(AuthConfig)
}

// NewWatcher loads path once synchronously, then returns a Watcher primed
// with that value. Call Start to begin watching for changes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger}
	w.current.Store(&cfg)
	return w, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() AuthConfig {
	return *w.current.Load()
}

// OnChange registers a callback invoked with the new config after every
// successful reload.
func (w *Watcher) OnChange(fn func(AuthConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start watches the config file itself for writes and reloads on
// every change, until ctx is canceled. The timer/watcher goroutine exits
// promptly on cancellation so it never blocks process exit.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.path); err != nil {
		// The file may not exist yet; that's not fatal (config.Load
		// already tolerates a missing file). Callers that need to react
		// to its later creation should watch the containing directory
		// instead and re-Add once it appears.
		w.logger.Warn("config.watch.add_failed", slog.String("path", w.path), slog.Any("error", err))
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config.watch.error", slog.Any("error", err))
			}
		}
	}()

	return nil
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config.watch.reload_failed", slog.String("path", w.path), slog.Any("error", err))
		return
	}
	w.current.Store(&cfg)
	w.logger.Info("config.watch.reloaded", slog.String("path", w.path))

	w.mu.Lock()
	listeners := make([]func(AuthConfig), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

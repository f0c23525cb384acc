package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher re-reads the gateway configuration when its file changes.
//
// Change detection polls the file's modification time, so it works on every
// platform without an fsnotify dependency. Rapid successive writes are
// debounced so editors that write then rename trigger a single reload. A
// reload that fails to parse or validate keeps the previous configuration
// and reports through the error callbacks.
type Watcher struct {
	mu sync.RWMutex

	path     string
	loader   *Loader
	interval time.Duration
	debounce time.Duration

	running  bool
	stopChan chan struct{}
	changes  chan struct{}

	reloadFns []func(*Config)
	errorFns  []func(error)

	logger *zap.Logger

	lastMod time.Time
}

// WatcherOption configures the Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file's modification time is checked.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounceDelay sets how long to wait after a change before reloading.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the given configuration file. A nil
// loader gets a default one that reads the same file and runs Validate, so
// an invalid edit can never replace a good configuration. A missing file is
// not an error; the watcher fires once the file appears.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil {
		loader = NewLoader().
			WithConfigPath(path).
			WithValidator(func(c *Config) error { return c.Validate() })
	}

	w := &Watcher{
		path:     path,
		loader:   loader,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		stopChan: make(chan struct{}),
		changes:  make(chan struct{}, 1),
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
		w.logger.Warn("config file does not exist, will watch for creation",
			zap.String("path", path))
	}

	return w, nil
}

// OnReload registers a callback invoked with each successfully loaded
// configuration.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reloadFns = append(w.reloadFns, fn)
}

// OnError registers a callback invoked when a reload attempt fails.
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorFns = append(w.errorFns, fn)
}

// Start begins watching. The current file state is taken as the baseline,
// so only changes after Start trigger a reload.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.reloadLoop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.interval),
		zap.Duration("debounce_delay", w.debounce))

	return nil
}

// Stop stops the watcher. Calling Stop on a stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("config watcher stopped")
}

// IsRunning reports whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

// checkFile signals the reload loop when the file's modification time
// advances. The signal channel holds one slot; pending signals coalesce.
func (w *Watcher) checkFile() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && !w.lastMod.IsZero() {
			w.lastMod = time.Time{}
			w.logger.Warn("config file removed, keeping current configuration",
				zap.String("path", w.path))
		}
		return
	}

	if w.lastMod.IsZero() || info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		select {
		case w.changes <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.changes:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()

	w.mu.RLock()
	reloadFns := make([]func(*Config), len(w.reloadFns))
	copy(reloadFns, w.reloadFns)
	errorFns := make([]func(error), len(w.errorFns))
	copy(errorFns, w.errorFns)
	w.mu.RUnlock()

	if err != nil {
		w.logger.Error("config reload failed, keeping current configuration",
			zap.String("path", w.path),
			zap.Error(err))
		for _, fn := range errorFns {
			fn(err)
		}
		return
	}

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range reloadFns {
		fn(cfg)
	}
}

package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher tracks a config file and notifies listeners with the old and new
// configuration whenever its content changes and still validates. Invalid
// edits are logged and ignored; the last good config stays current.
//
// Polling only happens inside [Watcher.Run]; [Watcher.Reload] checks once.
type Watcher struct {
	path     string
	interval time.Duration

	mu        sync.Mutex
	current   *Config
	listeners []func(old, new *Config)
	lastMtime time.Time
	lastHash  uint64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. It fails when the initial load fails.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnChange registers fn to be called after every accepted change, in
// registration order. fn runs on the goroutine that detected the change.
func (w *Watcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Run polls the file until ctx is done. The mtime is checked every interval
// and the file is only re-read when it moved.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			moved := !info.ModTime().Equal(w.lastMtime)
			w.mu.Unlock()
			if !moved {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file now. It reports whether the content changed and
// was applied. A file that fails to load or validate returns the error and
// leaves the current config in place.
func (w *Watcher) Reload() (changed bool, err error) {
	cfg, hash, mtime, err := w.load()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		// Touched, not edited.
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	for _, fn := range listeners {
		fn(old, cfg)
	}
	return true, nil
}

// load reads, hashes, and validates the file in one pass.
func (w *Watcher) load() (*Config, uint64, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, time.Time{}, err
	}
	return cfg, xxh3.Hash(data), info.ModTime(), nil
}

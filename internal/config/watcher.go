package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the config file in sync with a running practice session. It
// polls the file, and when the content changes and still validates it hands
// the [ConfigDiff] and the new config to the apply callback. Broken edits are
// logged and skipped; the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff, *Config)

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
	modTime time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. apply may be nil. The initial
// load must succeed.
func NewWatcher(path string, apply func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply, done: make(chan struct{})}
	for _, o := range opts {
		o(w)
	}

	data, modTime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.modTime = cfg, sha256.Sum256(data), modTime

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the last config that loaded and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish. It may be
// called more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file now. It returns the applied diff, which is empty
// when the file is unchanged. On error the current config is kept.
func (w *Watcher) Reload() (ConfigDiff, error) {
	data, modTime, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	if modTime.Equal(w.modTime) {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	// Remember the mtime even for broken or identical content so one bad
	// save is reported once.
	w.modTime = modTime
	sum := sha256.Sum256(data)
	if sum == w.sum {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Unlock()
		return ConfigDiff{}, err
	}
	d := Diff(w.current, cfg)
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.apply != nil && !d.Empty() {
		w.apply(d, cfg)
	}
	return d, nil
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

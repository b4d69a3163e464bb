package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] checks the file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the previous and the newly loaded config together with
// their [Diff].
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher keeps the MCP server's view of the config file current. It polls
// the modification time and reloads when the content hash changed. A file
// that fails to load or validate is logged and the previous config stays in
// effect.
type Watcher struct {
	path     string
	interval time.Duration
	signals  []os.Signal
	onChange ChangeFunc

	current atomic.Pointer[Config]

	mu      sync.Mutex
	modTime time.Time
	sum     [sha256.Size]byte

	stop func()
	done chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithReloadSignal reloads the file as soon as the process receives one of
// sigs, whether or not its modification time moved.
func WithReloadSignal(sigs ...os.Signal) WatcherOption {
	return func(w *Watcher) { w.signals = sigs }
}

// NewWatcher loads path and starts watching it until [Watcher.Stop].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	cfg, sum, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	w.current.Store(cfg)
	w.modTime, w.sum = info.ModTime(), sum

	ctx, cancel := context.WithCancel(context.Background())
	w.stop = sync.OnceFunc(func() {
		cancel()
		<-w.done
	})
	go w.loop(ctx)
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Stop ends watching and waits for a reload in progress. Further calls are
// no-ops.
func (w *Watcher) Stop() {
	w.stop()
}

// Reload re-reads the file now, even when its modification time did not
// change. It reports whether a different config was applied.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var sigs chan os.Signal
	if len(w.signals) > 0 {
		sigs = make(chan os.Signal, 1)
		signal.Notify(sigs, w.signals...)
		defer signal.Stop(sigs)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err = w.reload(false)
		case s := <-sigs:
			slog.Info("config: reload requested", "signal", s.String())
			_, err = w.reload(true)
		}
		if err != nil {
			slog.Warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload(force bool) (bool, error) {
	old, cfg, err := w.swap(force)
	if err != nil || cfg == nil {
		return false, err
	}

	d := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"pipeline_changed", d.PipelineChanged,
		"retry_changed", d.RetryChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback can call Current().
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true, nil
}

// swap installs the file's config if it differs from the current one. A nil
// cfg means nothing changed. The modification time is recorded before
// parsing so a broken file is reported once per edit, not on every tick.
func (w *Watcher) swap(force bool) (old, cfg *Config, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	if !force && info.ModTime().Equal(w.modTime) {
		return nil, nil, nil
	}
	w.modTime = info.ModTime()

	next, sum, err := readConfig(w.path)
	if err != nil {
		return nil, nil, err
	}
	if sum == w.sum {
		return nil, nil, nil
	}
	w.sum = sum
	return w.current.Swap(next), next, nil
}

func readConfig(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}

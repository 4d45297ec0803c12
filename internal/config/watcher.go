package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Change is a validated config reload.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher polls a config file and reports content changes that pass
// validation. A file that fails to load is logged and ignored; the last good
// config stays current. Reloads use the same environment overlay as [Load].
type Watcher struct {
	path     string
	getenv   func(string) string
	interval time.Duration
	log      *slog.Logger
	onChange func(Change)

	// reloadMu serialises Reload between the poller and explicit callers.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
	modTime time.Time

	stop     chan struct{}
	stopOnce sync.Once
	polling  sync.WaitGroup
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s. Zero or negative
// disables polling; changes are then only picked up by [Watcher.Reload].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithGetenv sets the environment lookup used for the overlay. Defaults to
// [os.Getenv].
func WithGetenv(getenv func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = getenv }
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and starts polling it. onChange runs on the polling
// goroutine (or the Reload caller) and may be nil.
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		getenv:   os.Getenv,
		interval: 5 * time.Second,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.log == nil {
		w.log = slog.Default()
	}

	data, modTime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := load(data, w.getenv)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.modTime = cfg, sha256.Sum256(data), modTime

	if w.interval > 0 {
		w.polling.Add(1)
		go w.poll()
	}
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-progress reload to finish. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.polling.Wait()
}

// Reload re-reads the file regardless of its modification time. It reports
// whether the content changed and was applied; an invalid file returns the
// load error and leaves the current config in place.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) poll() {
	defer w.polling.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if _, err := w.reload(false); err != nil {
				w.log.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.modTime)
		w.mu.Unlock()
		if unchanged {
			return false, nil
		}
	}

	data, modTime, err := w.read()
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	same := bytes.Equal(sum[:], w.sum[:])
	w.modTime = modTime
	w.mu.Unlock()
	if same {
		return false, nil
	}

	cfg, err := load(data, w.getenv)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	ch := Change{Old: old, New: cfg, Diff: Diff(old, cfg)}
	w.log.Info("config reloaded", "path", w.path,
		"log_level_changed", ch.Diff.LogLevelChanged, "restart_required", ch.Diff.RestartRequired)
	if w.onChange != nil {
		w.onChange(ch)
	}
	return true, nil
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

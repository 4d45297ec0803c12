package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
transcription:
  backend:
    name: groq
`

const watcherUpdatedYAML = `
server:
  log_level: debug
transcription:
  backend:
    name: whisper
    base_url: http://localhost:8081
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime pushes the file's mtime forward so the change is visible even on
// filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond), config.WithGetenv(envMap(nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v, want log_level info", cfg)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	changes := make(chan config.Change, 1)
	w, err := config.NewWatcher(cfgPath, func(c config.Change) { changes <- c },
		config.WithInterval(20*time.Millisecond), config.WithGetenv(envMap(nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath)

	var c config.Change
	select {
	case c = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called")
	}
	if !c.Diff.LogLevelChanged || c.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", c.Diff)
	}
	if len(c.Diff.RestartRequired) != 1 || c.Diff.RestartRequired[0] != "transcription" {
		t.Errorf("RestartRequired = %v, want [transcription]", c.Diff.RestartRequired)
	}
	if c.Old.Transcription.Backend.Name != "groq" || c.New != w.Current() {
		t.Errorf("change = %+v, want groq -> current", c)
	}
	if w.Current().Transcription.Backend.Name != "whisper" {
		t.Errorf("Current() not updated")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var calls int
	w, err := config.NewWatcher(cfgPath, func(config.Change) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(0), config.WithGetenv(envMap(nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if changed, err := w.Reload(); err != nil || changed {
		t.Fatalf("Reload() on unchanged file = %v, %v; want false, nil", changed, err)
	}

	// Same mtime on purpose: Reload must not rely on it.
	info, _ := os.Stat(cfgPath)
	writeFile(t, cfgPath, watcherUpdatedYAML)
	_ = os.Chtimes(cfgPath, info.ModTime(), info.ModTime())

	if changed, err := w.Reload(); err != nil || !changed {
		t.Fatalf("Reload() after edit = %v, %v; want true, nil", changed, err)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("log level = %q, want debug", w.Current().Server.LogLevel)
	}

	writeFile(t, cfgPath, watcherInvalidYAML)
	if changed, err := w.Reload(); err == nil || changed {
		t.Fatalf("Reload() of invalid file = %v, %v; want false, error", changed, err)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("invalid file replaced the current config")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("onChange calls = %d, want 1", calls)
	}
}

func TestWatcher_KeepsConfigOnInvalidFile(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(config.Change) {
		called <- struct{}{}
	}, config.WithInterval(20*time.Millisecond), config.WithGetenv(envMap(nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath)

	select {
	case <-called:
		t.Fatal("onChange called for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("config replaced by invalid file")
	}
}

func TestNewWatcher_InvalidInitialFile(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiff_NoChange(t *testing.T) {
	a, _ := config.Load("", envMap(nil))
	b, _ := config.Load("", envMap(nil))
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("Diff = %+v, want empty", d)
	}
}

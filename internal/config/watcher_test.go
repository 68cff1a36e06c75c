package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStripWatcher(t *testing.T, path string, opts ...WatcherOption[Strip]) *Watcher[Strip] {
	t.Helper()
	opts = append([]WatcherOption[Strip]{WithDebounce[Strip](50 * time.Millisecond)}, opts...)
	return NewWatcher(path, LoadStrip, newTestLogger(), opts...)
}

func run(t *testing.T, w *Watcher[Strip]) {
	t.Helper()
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error: %v", err)
		}
	})
	// fsnotify needs a moment before the first change is seen.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path)

	received := make(chan Strip, 10)
	w.OnReload(func(s Strip) { received <- s })
	run(t, w)

	if err := os.WriteFile(path, []byte("[strip]\nleds = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-received:
		if s.LEDs != 42 {
			t.Errorf("reloaded leds = %d, want 42", s.LEDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherAtomicReplace(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path)

	received := make(chan Strip, 10)
	w.OnReload(func(s Strip) { received <- s })
	run(t, w)

	tmp := filepath.Join(filepath.Dir(path), ".layout.toml.swp")
	if err := os.WriteFile(tmp, []byte("[strip]\nleds = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-received:
		if s.LEDs != 7 {
			t.Errorf("reloaded leds = %d, want 7", s.LEDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path, WithDebounce[Strip](200*time.Millisecond))

	var calls atomic.Int32
	last := make(chan Strip, 10)
	w.OnReload(func(s Strip) {
		calls.Add(1)
		last <- s
	})
	run(t, w)

	for i := 2; i <= 5; i++ {
		content := []byte("[strip]\nleds = " + string(rune('0'+i)) + "\n")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case s := <-last:
		if s.LEDs != 5 {
			t.Errorf("leds = %d, want the last write", s.LEDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestWatcherErrorKeepsHandlersQuiet(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	errs := make(chan error, 10)
	w := newStripWatcher(t, path, WithErrorHandler[Strip](func(err error) { errs <- err }))

	var calls atomic.Int32
	w.OnReload(func(Strip) { calls.Add(1) })
	run(t, w)

	if err := os.WriteFile(path, []byte("[strip\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if err == nil {
			t.Error("error handler got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
	if calls.Load() != 0 {
		t.Error("reload handler called for a broken file")
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path)

	var removed atomic.Int32
	kept := make(chan Strip, 10)
	unsubscribe := w.OnReload(func(Strip) { removed.Add(1) })
	w.OnReload(func(s Strip) { kept <- s })
	unsubscribe()
	run(t, w)

	if err := os.WriteFile(path, []byte("[strip]\nleds = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if removed.Load() != 0 {
		t.Error("unsubscribed handler was called")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path)

	var calls atomic.Int32
	w.OnReload(func(Strip) { calls.Add(1) })
	run(t, w)

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("change to another file triggered a reload")
	}
}

func TestWatcherStartMissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "layout.toml"), LoadStrip, newTestLogger())
	if err := w.Start(context.Background()); err == nil {
		_ = w.Stop()
		t.Fatal("Start() succeeded for a missing directory")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() without Start = %v", err)
	}
}

func TestWatcherStopsWithContext(t *testing.T) {
	path := writeFile(t, "layout.toml", "[strip]\nleds = 1\n")
	w := newStripWatcher(t, path)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Stop() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, os.ErrClosed) {
			t.Errorf("Stop() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() hung after context cancel")
	}
}

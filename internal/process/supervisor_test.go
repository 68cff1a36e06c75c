package process

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// blockingRun records each generation's config and blocks until cancelled.
type blockingRun struct {
	mu      sync.Mutex
	seen    []int
	started chan int
}

func newBlockingRun() *blockingRun {
	return &blockingRun{started: make(chan int, 10)}
}

func (b *blockingRun) run(ctx context.Context, cfg int) error {
	b.mu.Lock()
	b.seen = append(b.seen, cfg)
	b.mu.Unlock()
	b.started <- cfg
	<-ctx.Done()
	return ctx.Err()
}

func waitStarted(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("generation started with %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for generation with %d", want)
	}
}

func TestSupervisorRestarts(t *testing.T) {
	b := newBlockingRun()
	sup := NewSupervisor(1, b.run, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitStarted(t, b.started, 1)
	sup.RequestRestart(2)
	waitStarted(t, b.started, 2)

	if got := sup.Config(); got != 2 {
		t.Errorf("Config() = %d, want 2", got)
	}
	info := sup.Info()
	if info.State != StateRunning || info.Generation != 2 || info.RestartCount != 1 {
		t.Errorf("Info() = %+v", info)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if sup.Info().State != StateStopped {
		t.Errorf("state = %s, want stopped", sup.Info().State)
	}
}

func TestSupervisorNewestRestartWins(t *testing.T) {
	sup := NewSupervisor(0, func(context.Context, int) error { return nil }, newTestLogger())
	sup.RequestRestart(1)
	sup.RequestRestart(2)
	sup.RequestRestart(3)

	select {
	case got := <-sup.restartChan:
		if got != 3 {
			t.Errorf("pending restart = %d, want 3", got)
		}
	default:
		t.Fatal("no pending restart")
	}
	select {
	case extra := <-sup.restartChan:
		t.Errorf("second pending restart %d", extra)
	default:
	}
}

func TestSupervisorGenerationFailure(t *testing.T) {
	boom := errors.New("serial port gone")
	sup := NewSupervisor("cfg", func(context.Context, string) error { return boom }, newTestLogger())

	if err := sup.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
	info := sup.Info()
	if info.State != StateError || !errors.Is(info.LastError, boom) {
		t.Errorf("Info() = %+v", info)
	}
}

func TestSupervisorUnexpectedExit(t *testing.T) {
	sup := NewSupervisor(0, func(context.Context, int) error { return nil }, newTestLogger())
	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil for a generation that returned on its own")
	}
}

func TestSupervisorFailureWhileRestarting(t *testing.T) {
	started := make(chan int, 10)
	run := func(ctx context.Context, cfg int) error {
		started <- cfg
		<-ctx.Done()
		if cfg == 1 {
			return errors.New("close failed")
		}
		return ctx.Err()
	}
	sup := NewSupervisor(1, run, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	waitStarted(t, started, 1)
	sup.RequestRestart(2)
	waitStarted(t, started, 2)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
}

package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/screenglow/internal/pipeline"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestReadyOncePerStart(t *testing.T) {
	rec := &recorder{}
	n := newNotifier(rec.notify, 0, newTestLogger())

	n.StateChanged(pipeline.StateIdle, pipeline.StateRunning, nil)
	n.StateChanged(pipeline.StateRunning, pipeline.StateReconnecting, errors.New("write failed"))
	n.StateChanged(pipeline.StateReconnecting, pipeline.StateRunning, nil)
	if got := rec.count(daemon.SdNotifyReady); got != 1 {
		t.Errorf("READY sent %d times, want 1", got)
	}
	if !slices.Contains(rec.snapshot(), "STATUS=Pipeline reconnecting: write failed") {
		t.Errorf("states = %v, want a reconnecting status", rec.snapshot())
	}

	n.Reloading()
	n.StateChanged(pipeline.StateStopped, pipeline.StateRunning, nil)
	if got := rec.count(daemon.SdNotifyReady); got != 2 {
		t.Errorf("READY sent %d times after reload, want 2", got)
	}
	if got := rec.count(daemon.SdNotifyReloading); got != 1 {
		t.Errorf("RELOADING sent %d times, want 1", got)
	}
}

func TestAlive(t *testing.T) {
	base := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		state  pipeline.State
		frame  time.Duration // since base; negative means none sent
		at     time.Duration
		expect bool
	}{
		{"running before first frame", pipeline.StateRunning, -1, 2 * time.Second, true},
		{"no frame since entering running", pipeline.StateRunning, -1, 4 * time.Second, false},
		{"compositor hung for an hour", pipeline.StateRunning, -1, time.Hour, false},
		{"running with recent frame", pipeline.StateRunning, 0, 2 * time.Second, true},
		{"running but stalled", pipeline.StateRunning, 0, 4 * time.Second, false},
		{"reconnecting", pipeline.StateReconnecting, 0, time.Minute, true},
		{"failed", pipeline.StateError, 0, 0, false},
		{"stopped", pipeline.StateStopped, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			n := newNotifier(rec.notify, 3*time.Second, newTestLogger())
			clock := base
			n.now = func() time.Time { return clock }
			n.StateChanged(pipeline.StateIdle, tt.state, nil)

			if tt.frame >= 0 {
				clock = base.Add(tt.frame)
				n.FrameSent(10, time.Millisecond)
			}
			clock = base.Add(tt.at)
			if got := n.alive(); got != tt.expect {
				t.Errorf("alive() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestFrameDeadlineRestartsOnRunning(t *testing.T) {
	base := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)
	clock := base
	n := newNotifier((&recorder{}).notify, 3*time.Second, newTestLogger())
	n.now = func() time.Time { return clock }

	n.StateChanged(pipeline.StateIdle, pipeline.StateRunning, nil)
	clock = base.Add(2 * time.Second)
	n.StateChanged(pipeline.StateRunning, pipeline.StateRunning, nil)
	clock = base.Add(4 * time.Second)
	if n.alive() {
		t.Error("repeated running state extended the first-frame deadline")
	}

	n.StateChanged(pipeline.StateRunning, pipeline.StateReconnecting, errors.New("write failed"))
	clock = base.Add(time.Minute)
	n.StateChanged(pipeline.StateReconnecting, pipeline.StateRunning, nil)
	clock = base.Add(time.Minute + 2*time.Second)
	if !n.alive() {
		t.Error("not alive shortly after reconnecting")
	}
	clock = base.Add(time.Minute + 5*time.Second)
	if n.alive() {
		t.Error("alive with no frame since reconnecting")
	}
}

func TestRunPingsAndStops(t *testing.T) {
	rec := &recorder{}
	n := newNotifier(rec.notify, 20*time.Millisecond, newTestLogger())
	n.StateChanged(pipeline.StateIdle, pipeline.StateRunning, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count(daemon.SdNotifyWatchdog) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if got := rec.count(daemon.SdNotifyWatchdog); got < 2 {
		t.Errorf("WATCHDOG sent %d times, want at least 2", got)
	}
	states := rec.snapshot()
	if states[len(states)-1] != daemon.SdNotifyStopping {
		t.Errorf("last state = %q, want STOPPING", states[len(states)-1])
	}
}

func TestRunDisabled(t *testing.T) {
	rec := &recorder{}
	n := newNotifier(rec.notify, 0, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Run(ctx)
	if got := rec.snapshot(); !slices.Equal(got, []string{daemon.SdNotifyStopping}) {
		t.Errorf("states = %v, want only STOPPING", got)
	}
}

func TestNewOutsideSystemd(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("NOTIFY_SOCKET", "")
	n := New(newTestLogger())
	if n.Interval() != 0 {
		t.Errorf("Interval() = %v outside systemd", n.Interval())
	}
	n.StateChanged(pipeline.StateIdle, pipeline.StateRunning, nil)
}

package led

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/screenglow/internal/events"
)

type mockController struct {
	mu    sync.Mutex
	calls []Pattern
}

func (m *mockController) Set(p Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	return nil
}

func (m *mockController) Name() string { return "mock" }

func (m *mockController) last() (Pattern, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return "", 0
	}
	return m.calls[len(m.calls)-1], len(m.calls)
}

func waitFor(t *testing.T, ctrl *mockController, want Pattern, calls int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p, n := ctrl.last(); n == calls && p == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, n := ctrl.last()
	t.Fatalf("last pattern = %q after %d calls, want %q after %d", p, n, want, calls)
}

func TestManager_FollowsPipelineState(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, newTestLogger())
	mgr.Start()

	bus.Publish(events.PipelineStateChangedEvent{From: "idle", To: "running"})
	waitFor(t, ctrl, PatternSolid, 1)

	bus.Publish(events.PipelineStateChangedEvent{From: "running", To: "reconnecting"})
	waitFor(t, ctrl, PatternBlink, 2)

	bus.Publish(events.PipelineStateChangedEvent{From: "reconnecting", To: "stopped"})
	waitFor(t, ctrl, PatternOff, 3)

	mgr.Stop()
	waitFor(t, ctrl, PatternOff, 4)

	bus.Publish(events.PipelineStateChangedEvent{From: "idle", To: "running"})
	time.Sleep(20 * time.Millisecond)
	if _, n := ctrl.last(); n != 4 {
		t.Errorf("manager reacted after Stop: %d calls", n)
	}
}

func TestPatternFor(t *testing.T) {
	tests := map[string]Pattern{
		"running":      PatternSolid,
		"reconnecting": PatternBlink,
		"error":        PatternBlink,
		"stopped":      PatternOff,
		"idle":         PatternOff,
	}
	for state, want := range tests {
		if got := PatternFor(state); got != want {
			t.Errorf("PatternFor(%q) = %q, want %q", state, got, want)
		}
	}
}

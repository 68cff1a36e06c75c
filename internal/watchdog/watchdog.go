// Package watchdog reports service state to systemd. Outside systemd
// every notification is a no-op.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/screenglow/internal/pipeline"
)

// Notifier implements pipeline.Observer. WATCHDOG=1 is only sent while
// the loop makes progress, so a stalled capture gets the unit restarted.
type Notifier struct {
	notify   func(state string) (bool, error)
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
	state pipeline.State
	// progress is the last sent frame, or entry into running before the
	// first frame.
	progress time.Time
}

// New reads the watchdog interval from the environment systemd set up.
func New(logger *slog.Logger) *Notifier {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Invalid systemd watchdog settings, watchdog disabled", "error", err)
		interval = 0
	}
	return newNotifier(func(s string) (bool, error) { return daemon.SdNotify(false, s) }, interval, logger)
}

func newNotifier(notify func(string) (bool, error), interval time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		notify:   notify,
		interval: interval,
		now:      time.Now,
		logger:   logger,
		state:    pipeline.StateIdle,
	}
}

// Interval is the systemd watchdog timeout, zero when disabled.
func (n *Notifier) Interval() time.Duration {
	return n.interval
}

// Run pings the watchdog at half the interval until ctx is done, then
// sends STOPPING=1.
func (n *Notifier) Run(ctx context.Context) {
	defer n.send(daemon.SdNotifyStopping)
	if n.interval <= 0 {
		<-ctx.Done()
		return
	}
	n.logger.Info("systemd watchdog enabled", "interval", n.interval)

	ticker := time.NewTicker(n.interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.alive() {
				n.send(daemon.SdNotifyWatchdog)
			} else {
				n.logger.Warn("Pipeline stalled, withholding watchdog ping")
			}
		}
	}
}

// Reloading marks a layout restart; the next running state reports
// READY again.
func (n *Notifier) Reloading() {
	n.mu.Lock()
	n.ready = false
	n.mu.Unlock()
	n.send(daemon.SdNotifyReloading)
}

func (n *Notifier) alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case pipeline.StateReconnecting:
		return true
	case pipeline.StateRunning:
		return n.now().Sub(n.progress) < n.interval
	default:
		return false
	}
}

// StateChanged implements pipeline.Observer.
func (n *Notifier) StateChanged(_, newState pipeline.State, err error) {
	n.mu.Lock()
	if newState == pipeline.StateRunning && n.state != pipeline.StateRunning {
		n.progress = n.now()
	}
	n.state = newState
	sendReady := newState == pipeline.StateRunning && !n.ready
	if sendReady {
		n.ready = true
	}
	n.mu.Unlock()

	if sendReady {
		n.send(daemon.SdNotifyReady)
	}
	status := "STATUS=Pipeline " + string(newState)
	if err != nil {
		status += ": " + err.Error()
	}
	n.send(status)
}

// FrameSent implements pipeline.Observer.
func (n *Notifier) FrameSent(int, time.Duration) {
	n.mu.Lock()
	n.progress = n.now()
	n.mu.Unlock()
}

// Reconnected implements pipeline.Observer.
func (n *Notifier) Reconnected(attempt int, err error) {
	if err != nil {
		return
	}
	n.send("STATUS=Transport reconnected")
	n.logger.Debug("Reported reconnect to systemd", "attempt", attempt)
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify", "state", state)
	}
}

//go:build linux

// Package hotplug watches kernel uevents over netlink so a serial LED
// controller can be reopened when it is plugged back in.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Subsystems relevant to serial controllers.
const (
	SubsystemTTY       = "tty"
	SubsystemUSB       = "usb"
	SubsystemUSBSerial = "usb-serial"
)

// pollInterval bounds how long Run waits before checking ctx again.
const pollInterval = 250 // ms

// Event is a kernel device event.
type Event struct {
	Action    string
	KObj      string // /devices/pci0000:00/...
	Subsystem string
	DevType   string
	DevName   string // node name relative to /dev, e.g. "ttyACM0"
	DevPath   string // sysfs path
	Env       map[string]string
}

// Node returns the device node path, or "" if the event has none.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if filepath.IsAbs(e.DevName) {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// Monitor receives kernel uevents.
type Monitor struct {
	fd int

	mu         sync.RWMutex
	subsystems map[string]struct{}

	active atomic.Int32 // Run calls in progress
}

// netlinkKobjectUEvent is NETLINK_KOBJECT_UEVENT.
const netlinkKobjectUEvent = 15

// NewMonitor opens a netlink socket on the kernel broadcast group. Events
// are limited to subsystems, or unfiltered if none are given.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	m := &Monitor{fd: fd, subsystems: make(map[string]struct{})}
	for _, s := range subsystems {
		m.AddSubsystem(s)
	}
	return m, nil
}

// AddSubsystem adds a subsystem filter. Safe for concurrent use.
func (m *Monitor) AddSubsystem(subsystem string) {
	m.mu.Lock()
	m.subsystems[subsystem] = struct{}{}
	m.mu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.subsystems) == 0 {
		return true
	}
	_, ok := m.subsystems[subsystem]
	return ok
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers events until ctx is done or the socket fails. events is
// closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	m.active.Add(1)
	defer m.active.Add(-1)
	defer close(events)

	buf := make([]byte, 8192)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, pollInterval)
		if errors.Is(err, unix.EINTR) || (err == nil && n == 0) {
			continue
		}
		if err != nil {
			return err
		}

		n, _, err = unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok || !m.accepts(ev.Subsystem) {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForNode blocks until the device node at path exists, watching for
// add events so the wait ends as soon as udev creates it. The monitor is
// idle again when WaitForNode returns.
func (m *Monitor) WaitForNode(ctx context.Context, path string) error {
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 8)
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(runCtx, events) }()

	err := awaitNode(runCtx, path, events)
	cancel()
	rerr := <-runErr
	if errors.Is(err, errRunStopped) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return rerr
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

var errRunStopped = errors.New("hotplug: monitor stopped")

func awaitNode(ctx context.Context, path string, events <-chan Event) error {
	// Checked after the monitor starts so an add between the two is not lost.
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return errRunStopped
			}
			if ev.Action != ActionAdd && ev.Action != ActionBind {
				continue
			}
			if ev.Node() == path {
				return nil
			}
			// udev may only create symlinks (/dev/serial/by-id) after the
			// kernel event, so fall back to checking the path itself.
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent parses "ACTION@KOBJ\0KEY=VALUE\0...". Messages rebroadcast
// by libudev carry a binary header and are skipped past it.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		data = skipUdevHeader(data)
	}
	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return Event{}, false
	}

	action, kobj, ok := strings.Cut(string(parts[0]), "@")
	if !ok || action == "" {
		return Event{}, false
	}
	ev := Event{Action: action, KObj: kobj, Env: make(map[string]string)}

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		case "DEVNAME":
			ev.DevName = value
		case "DEVPATH":
			ev.DevPath = value
		}
	}
	return ev, true
}

func skipUdevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		field := rest
		if end := bytes.IndexByte(rest, 0); end >= 0 {
			field = rest[:end]
		}
		if at := bytes.IndexByte(field, '@'); at > 0 && at < 20 {
			return rest
		}
	}
	return data
}

//go:build linux

// Package serial opens a tty as a raw 8N1 byte stream for LED controllers.
package serial

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// FlowControl selects the handshake.
type FlowControl string

// Flow control modes.
const (
	FlowNone     FlowControl = "none"
	FlowHardware FlowControl = "hardware" // RTS/CTS
)

// ParseFlowControl validates a flow control name.
func ParseFlowControl(s string) (FlowControl, error) {
	switch f := FlowControl(strings.ToLower(strings.TrimSpace(s))); f {
	case FlowNone, "":
		return FlowNone, nil
	case FlowHardware, "rtscts":
		return FlowHardware, nil
	default:
		return "", fmt.Errorf("unknown flow control %q (want none or hardware)", s)
	}
}

// Config describes how to open a port.
type Config struct {
	Device      string
	Baud        int
	FlowControl FlowControl
	// DTR asserts Data Terminal Ready after opening. Many Arduino-class
	// boards reset on the DTR edge.
	DTR bool
	// WriteTimeout bounds each Write. Zero blocks forever.
	WriteTimeout time.Duration
}

// ErrWriteTimeout is returned when a write exceeds Config.WriteTimeout.
var ErrWriteTimeout = errors.New("serial: write timed out")

// Port is an open serial device.
type Port struct {
	f   *os.File
	cfg Config
}

// Open opens and configures the device.
func Open(cfg Config) (*Port, error) {
	speed, ok := baudRates[cfg.Baud]
	if !ok {
		return nil, fmt.Errorf("serial: unsupported baud rate %d", cfg.Baud)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	if err := configure(fd, speed, cfg); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: configure %s: %w", cfg.Device, err)
	}

	// The fd stays non-blocking so the runtime poller can apply deadlines.
	return &Port{f: os.NewFile(uintptr(fd), cfg.Device), cfg: cfg}, nil
}

func configure(fd int, speed uint32, cfg Config) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("TCGETS: %w", err)
	}
	makeRaw(t, speed, cfg.FlowControl == FlowHardware)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("TCSETS: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		return fmt.Errorf("TCFLSH: %w", err)
	}
	if cfg.DTR {
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, unix.TIOCM_DTR); err != nil {
			return fmt.Errorf("set DTR: %w", err)
		}
	}
	return nil
}

// makeRaw sets 8N1, no echo, no line processing.
func makeRaw(t *unix.Termios, speed uint32, rtscts bool) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	if rtscts {
		t.Cflag |= unix.CRTSCTS
	}
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// Write writes p, honoring the configured write timeout.
func (p *Port) Write(b []byte) (int, error) {
	if p.cfg.WriteTimeout > 0 {
		if err := p.f.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := p.f.Write(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("%w after %v on %s", ErrWriteTimeout, p.cfg.WriteTimeout, p.cfg.Device)
	}
	return n, err
}

// Read reads from the device. LED controllers rarely answer, but some
// print a greeting after reset.
func (p *Port) Read(b []byte) (int, error) {
	return p.f.Read(b)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.cfg.Device
}

// Close closes the device.
func (p *Port) Close() error {
	return p.f.Close()
}

//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// openPTY returns the master side and the slave path of a new pseudo
// terminal.
func openPTY(t *testing.T) (*os.File, string) {
	t.Helper()
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		t.Skipf("no pty support: %v", err)
	}
	t.Cleanup(func() { master.Close() })

	fd := int(master.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		t.Skipf("unlockpt: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		t.Skipf("ptsname: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestOpenConfiguresRaw8N1(t *testing.T) {
	master, slave := openPTY(t)

	port, err := Open(Config{Device: slave, Baud: 115200, FlowControl: FlowHardware})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer port.Close()

	fd, err := unix.Open(slave, unix.O_RDONLY|unix.O_NOCTTY, 0)
	if err != nil {
		t.Fatalf("open slave: %v", err)
	}
	defer unix.Close(fd)
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		t.Fatalf("TCGETS: %v", err)
	}
	if tio.Cflag&unix.CSIZE != unix.CS8 {
		t.Errorf("character size = %#x, want CS8", tio.Cflag&unix.CSIZE)
	}
	if tio.Cflag&(unix.PARENB|unix.CSTOPB) != 0 {
		t.Error("parity or two stop bits enabled")
	}
	if tio.Cflag&unix.CBAUD != unix.B115200 {
		t.Errorf("baud bits = %#x, want B115200", tio.Cflag&unix.CBAUD)
	}
	if tio.Lflag&(unix.ICANON|unix.ECHO) != 0 || tio.Oflag&unix.OPOST != 0 {
		t.Error("line discipline not raw")
	}

	// Bytes arrive unmodified, including ones a cooked tty would translate.
	packet := []byte{'A', 'd', 'a', 0, 0, 0x55, '\n', '\r', 0x03}
	if _, err := port.Write(packet); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got := make([]byte, len(packet))
	if _, err := io.ReadFull(master, got); err != nil {
		t.Fatalf("read master: %v", err)
	}
	if string(got) != string(packet) {
		t.Errorf("master read %v, want %v", got, packet)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(Config{Device: "/dev/null", Baud: 12345}); err == nil {
		t.Error("Open() accepted an unsupported baud rate")
	}
	if _, err := Open(Config{Device: t.TempDir() + "/ttyNONE", Baud: 115200}); err == nil {
		t.Error("Open() of a missing device succeeded")
	}
	// /dev/null is not a tty.
	if _, err := Open(Config{Device: "/dev/null", Baud: 115200}); err == nil {
		t.Error("Open() of a non-tty succeeded")
	}
}

func TestWriteTimeout(t *testing.T) {
	_, slave := openPTY(t)

	port, err := Open(Config{Device: slave, Baud: 9600, WriteTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer port.Close()

	// Nobody reads the master, so the pty buffer fills up.
	chunk := make([]byte, 64*1024)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err = port.Write(chunk); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("Write() error = %v, want ErrWriteTimeout", err)
	}
}

func TestParseFlowControl(t *testing.T) {
	tests := map[string]FlowControl{"": FlowNone, "none": FlowNone, "Hardware": FlowHardware, "rtscts": FlowHardware}
	for in, want := range tests {
		got, err := ParseFlowControl(in)
		if err != nil || got != want {
			t.Errorf("ParseFlowControl(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFlowControl("xonxoff"); err == nil {
		t.Error("ParseFlowControl(xonxoff) succeeded")
	}
}

func TestBaudTable(t *testing.T) {
	rates := SupportedBaudRates()
	if len(rates) == 0 || rates[0] != 1200 {
		t.Fatalf("SupportedBaudRates() = %v", rates)
	}
	for i := 1; i < len(rates); i++ {
		if rates[i] <= rates[i-1] {
			t.Fatalf("rates not ascending at %d", i)
		}
	}
	for _, r := range []int{9600, 115200, 1000000} {
		if !ValidBaud(r) {
			t.Errorf("ValidBaud(%d) = false", r)
		}
	}
	if ValidBaud(14400) {
		t.Error("ValidBaud(14400) = true")
	}
}

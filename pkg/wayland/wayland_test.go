//go:build linux

package wayland

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fakeServer is the compositor end of a socketpair.
type fakeServer struct {
	t    *testing.T
	sock *net.UnixConn
	in   []byte
	fds  []int
}

type message struct {
	id     ObjectID
	opcode uint16
	body   []byte
}

func newPair(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Socketpair() error: %v", err)
	}
	conns := make([]*net.UnixConn, 2)
	for i, fd := range fds {
		f := os.NewFile(uintptr(fd), "wayland-test")
		c, err := net.FileConn(f)
		f.Close()
		if err != nil {
			t.Fatalf("FileConn() error: %v", err)
		}
		conns[i] = c.(*net.UnixConn)
	}
	client := NewConn(conns[0], nil)
	srv := &fakeServer{t: t, sock: conns[1]}
	t.Cleanup(func() {
		client.Close()
		srv.sock.Close()
		for _, fd := range srv.fds {
			unix.Close(fd)
		}
	})
	return client, srv
}

func (s *fakeServer) send(id ObjectID, opcode uint16, build func(e *encoder)) {
	s.t.Helper()
	e := &encoder{}
	if build != nil {
		build(e)
	}
	msg, err := marshal(id, opcode, e.buf)
	if err != nil {
		s.t.Fatalf("marshal() error: %v", err)
	}
	if _, err := s.sock.Write(msg); err != nil {
		s.t.Fatalf("server write error: %v", err)
	}
}

func (s *fakeServer) recv() message {
	s.t.Helper()
	if err := s.sock.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		s.t.Fatalf("SetReadDeadline() error: %v", err)
	}
	buf := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	for {
		if len(s.in) >= headerSize {
			id, opcode, size := header(s.in)
			if len(s.in) >= size {
				m := message{id: id, opcode: opcode, body: append([]byte(nil), s.in[headerSize:size]...)}
				s.in = s.in[size:]
				return m
			}
		}
		n, oobn, _, _, err := s.sock.ReadMsgUnix(buf, oob)
		if err != nil {
			s.t.Fatalf("server read error: %v", err)
		}
		if oobn > 0 {
			msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
			if err != nil {
				s.t.Fatalf("ParseSocketControlMessage() error: %v", err)
			}
			for i := range msgs {
				fds, err := unix.ParseUnixRights(&msgs[i])
				if err != nil {
					s.t.Fatalf("ParseUnixRights() error: %v", err)
				}
				s.fds = append(s.fds, fds...)
			}
		}
		s.in = append(s.in, buf[:n]...)
	}
}

func (s *fakeServer) expect(id ObjectID, opcode uint16) *decoder {
	s.t.Helper()
	m := s.recv()
	if m.id != id || m.opcode != opcode {
		s.t.Fatalf("got request %d on object %d, want %d on %d", m.opcode, m.id, opcode, id)
	}
	return &decoder{buf: m.body, fds: func() (int, bool) { return -1, false }}
}

func dispatch(t *testing.T, c *Conn, n int) {
	t.Helper()
	for range n {
		if err := c.Dispatch(context.Background()); err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
	}
}

func TestEncoderString(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{1, 0, 0, 0, 0, 0, 0, 0}},
		{"abc", []byte{4, 0, 0, 0, 'a', 'b', 'c', 0}},
		{"wl_shm", []byte{7, 0, 0, 0, 'w', 'l', '_', 's', 'h', 'm', 0, 0}},
	}
	for _, tt := range tests {
		e := &encoder{}
		e.String(tt.in)
		want := tt.want
		if order.Uint32([]byte{1, 0, 0, 0}) != 1 {
			// Big-endian host: swap the length prefix.
			want = append(order.AppendUint32(nil, uint32(len(tt.in)+1)), tt.want[4:]...)
		}
		if !bytes.Equal(e.buf, want) {
			t.Errorf("String(%q) = %v, want %v", tt.in, e.buf, want)
		}

		d := &decoder{buf: e.buf}
		if got := d.String(); got != tt.in || d.Err() != nil {
			t.Errorf("decode(%q) = %q, %v", tt.in, got, d.Err())
		}
	}
}

func TestArrayAndFixed(t *testing.T) {
	e := &encoder{}
	e.Array([]byte{1, 2, 3, 4, 5})
	e.Int(-256 * 3)
	if len(e.buf) != 4+8+4 {
		t.Fatalf("encoded %d bytes, want 16", len(e.buf))
	}
	d := &decoder{buf: e.buf}
	if got := d.Array(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Array() = %v", got)
	}
	if got := d.Fixed(); got != -3 {
		t.Errorf("Fixed() = %v, want -3", got)
	}
}

func TestMessageHeader(t *testing.T) {
	msg, err := marshal(7, 3, []byte{0xaa, 0xbb, 0xcc, 0xdd})
	if err != nil {
		t.Fatalf("marshal() error: %v", err)
	}
	id, opcode, size := header(msg)
	if id != 7 || opcode != 3 || size != 12 || len(msg) != 12 {
		t.Errorf("header() = %d, %d, %d (len %d)", id, opcode, size, len(msg))
	}
	if _, err := marshal(1, 0, make([]byte, maxMessageSize)); err == nil {
		t.Error("marshal() accepted an oversized message")
	}
}

func TestDecoderErrors(t *testing.T) {
	d := &decoder{buf: []byte{1, 2}}
	_ = d.Uint()
	if !errors.Is(d.Err(), errShortMessage) {
		t.Errorf("Err() = %v, want errShortMessage", d.Err())
	}

	e := &encoder{}
	e.Uint(4)
	e.buf = append(e.buf, 'a', 'b', 'c', 'd')
	d = &decoder{buf: e.buf}
	_ = d.String()
	if d.Err() == nil {
		t.Error("String() accepted an unterminated string")
	}

	d = &decoder{buf: nil, fds: func() (int, bool) { return -1, false }}
	if fd := d.FD(); fd != -1 || d.Err() == nil {
		t.Errorf("FD() = %d, %v; want -1 and an error", fd, d.Err())
	}
}

func TestRegistryAndBind(t *testing.T) {
	c, srv := newPair(t)

	reg, err := c.Display().GetRegistry()
	if err != nil {
		t.Fatalf("GetRegistry() error: %v", err)
	}
	d := srv.expect(1, 1)
	if id := d.Object(); id != reg.ID() {
		t.Fatalf("get_registry new_id = %d, want %d", id, reg.ID())
	}

	globals := []Global{
		{1, "wl_shm", 1},
		{2, ScreencopyManagerInterface, 3},
		{3, "wl_output", 4},
		{4, "wl_output", 2},
	}
	for _, g := range globals {
		srv.send(reg.ID(), 0, func(e *encoder) {
			e.Uint(g.Name)
			e.String(g.Interface)
			e.Uint(g.Version)
		})
	}
	srv.send(reg.ID(), 1, func(e *encoder) { e.Uint(4) })

	var removed []Global
	reg.OnGlobalRemove = func(g Global) { removed = append(removed, g) }
	dispatch(t, c, len(globals)+1)

	if got := reg.FindAll("wl_output"); len(got) != 1 || got[0].Name != 3 {
		t.Errorf("FindAll(wl_output) = %v", got)
	}
	if len(removed) != 1 || removed[0].Name != 4 {
		t.Errorf("removed = %v", removed)
	}

	g, ok := reg.Find(ScreencopyManagerInterface)
	if !ok {
		t.Fatal("screencopy manager not found")
	}
	m, err := reg.BindScreencopyManager(g)
	if err != nil {
		t.Fatalf("BindScreencopyManager() error: %v", err)
	}
	d = srv.expect(reg.ID(), 0)
	name, iface, version, id := d.Uint(), d.String(), d.Uint(), d.Object()
	if d.Err() != nil || name != 2 || iface != ScreencopyManagerInterface || version != 3 || id != m.ID() {
		t.Errorf("bind = %d %q v%d id %d (%v)", name, iface, version, id, d.Err())
	}
	if m.Version() != 3 {
		t.Errorf("Version() = %d, want 3", m.Version())
	}

	// Bound version is capped by the announced one.
	shm, err := reg.BindShm(globals[0])
	if err != nil {
		t.Fatalf("BindShm() error: %v", err)
	}
	if shm.Version() != 1 {
		t.Errorf("shm version = %d, want 1", shm.Version())
	}
}

func TestRoundtripAndDeleteID(t *testing.T) {
	c, srv := newPair(t)

	errc := make(chan error, 1)
	go func() { errc <- c.Roundtrip(context.Background()) }()

	d := srv.expect(1, 0)
	cb := d.Object()
	srv.send(cb, 0, func(e *encoder) { e.Uint(42) })
	srv.send(1, 1, func(e *encoder) { e.Uint(uint32(cb)) })

	if err := <-errc; err != nil {
		t.Fatalf("Roundtrip() error: %v", err)
	}
	dispatch(t, c, 1) // delete_id

	if _, ok := c.objects[cb]; ok {
		t.Error("callback still registered after delete_id")
	}
	if id := c.allocID(); id != cb {
		t.Errorf("allocID() = %d, want reused %d", id, cb)
	}
}

func TestProtocolError(t *testing.T) {
	c, srv := newPair(t)

	srv.send(1, 0, func(e *encoder) {
		e.Object(1)
		e.Uint(2)
		e.String("invalid method")
	})

	err := c.Dispatch(context.Background())
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("Dispatch() error = %v, want *ProtocolError", err)
	}
	if perr.Interface != "wl_display" || perr.Code != 2 || perr.Message != "invalid method" {
		t.Errorf("ProtocolError = %+v", perr)
	}
	if again := c.Dispatch(context.Background()); !errors.Is(again, err) {
		t.Errorf("second Dispatch() = %v, want sticky error", again)
	}
	if _, err := c.Display().Sync(); err == nil {
		t.Error("Sync() succeeded on a broken connection")
	}
}

func TestFDPassing(t *testing.T) {
	c, srv := newPair(t)

	shm := &Shm{}
	c.register(shm, "wl_shm", 1)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()

	pool, err := shm.CreatePool(int(w.Fd()), 4096)
	if err != nil {
		t.Fatalf("CreatePool() error: %v", err)
	}
	d := srv.expect(shm.ID(), 0)
	if id, size := d.Object(), d.Int(); id != pool.ID() || size != 4096 {
		t.Errorf("create_pool = id %d size %d", id, size)
	}
	if len(srv.fds) != 1 {
		t.Fatalf("server received %d descriptors, want 1", len(srv.fds))
	}

	// The received descriptor is the same pipe.
	if _, err := unix.Write(srv.fds[0], []byte("ok")); err != nil {
		t.Fatalf("write through passed fd: %v", err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil || string(buf) != "ok" {
		t.Errorf("read %q, %v", buf, err)
	}

	buffer, err := pool.CreateBuffer(0, 16, 16, 64, ShmFormatXRGB8888)
	if err != nil {
		t.Fatalf("CreateBuffer() error: %v", err)
	}
	d = srv.expect(pool.ID(), 0)
	if id := d.Object(); id != buffer.ID() {
		t.Errorf("create_buffer id = %d, want %d", id, buffer.ID())
	}
	if off, w, h, stride, f := d.Int(), d.Int(), d.Int(), d.Int(), d.Uint(); off != 0 || w != 16 || h != 16 || stride != 64 || f != ShmFormatXRGB8888 {
		t.Errorf("create_buffer args = %d %d %d %d %d", off, w, h, stride, f)
	}

	if err := pool.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	srv.expect(pool.ID(), 1)
	if err := pool.Destroy(); err != nil {
		t.Errorf("second Destroy() error: %v", err)
	}
	if _, err := pool.CreateBuffer(0, 1, 1, 4, 0); err == nil {
		t.Error("request on destroyed pool succeeded")
	}
}

func TestDmabufParams(t *testing.T) {
	c, srv := newPair(t)

	dmabuf := &LinuxDmabuf{Modifiers: make(map[uint32][]uint64)}
	c.register(dmabuf, "zwp_linux_dmabuf_v1", 3)
	srv.send(dmabuf.ID(), 1, func(e *encoder) {
		e.Uint(0x34325258)
		e.Uint(0)
		e.Uint(0)
	})
	dispatch(t, c, 1)
	if mods := dmabuf.Modifiers[0x34325258]; len(mods) != 1 || mods[0] != ModifierLinear {
		t.Errorf("Modifiers = %v", dmabuf.Modifiers)
	}

	params, err := dmabuf.CreateParams()
	if err != nil {
		t.Fatalf("CreateParams() error: %v", err)
	}
	srv.expect(dmabuf.ID(), 1)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error: %v", err)
	}
	defer r.Close()
	defer w.Close()
	if err := params.Add(int(r.Fd()), 0, 0, 256, 0x0100000000000002); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	d := srv.expect(params.ID(), 1)
	if plane, off, stride, hi, lo := d.Uint(), d.Uint(), d.Uint(), d.Uint(), d.Uint(); plane != 0 || off != 0 || stride != 256 || hi != 0x01000000 || lo != 2 {
		t.Errorf("add = %d %d %d %#x %#x", plane, off, stride, hi, lo)
	}

	buf, err := params.CreateImmed(64, 64, 0x34325258, 0)
	if err != nil {
		t.Fatalf("CreateImmed() error: %v", err)
	}
	d = srv.expect(params.ID(), 3)
	if id, w, h, f, flags := d.Object(), d.Int(), d.Int(), d.Uint(), d.Uint(); id != buf.ID() || w != 64 || h != 64 || f != 0x34325258 || flags != 0 {
		t.Errorf("create_immed = %d %d %d %#x %d", id, w, h, f, flags)
	}

	failed := false
	params.OnFailed = func() { failed = true }
	srv.send(params.ID(), 1, nil)
	dispatch(t, c, 1)
	if !failed {
		t.Error("OnFailed not called")
	}
}

func TestScreencopyFrameEvents(t *testing.T) {
	c, srv := newPair(t)

	mgr := &ScreencopyManager{}
	c.register(mgr, ScreencopyManagerInterface, 3)
	out := &Output{}
	c.register(out, "wl_output", 4)

	frame, err := mgr.CaptureOutput(true, out)
	if err != nil {
		t.Fatalf("CaptureOutput() error: %v", err)
	}
	d := srv.expect(mgr.ID(), 0)
	if id, cursor, o := d.Object(), d.Int(), d.Object(); id != frame.ID() || cursor != 1 || o != out.ID() {
		t.Errorf("capture_output = %d %d %d", id, cursor, o)
	}

	var got []string
	frame.SetListener(FrameListener{
		Buffer: func(format, w, h, stride uint32) {
			if format != ShmFormatXRGB8888 || w != 1920 || h != 1080 || stride != 7680 {
				t.Errorf("buffer(%d, %d, %d, %d)", format, w, h, stride)
			}
			got = append(got, "buffer")
		},
		LinuxDmabuf: func(format, w, h uint32) { got = append(got, "dmabuf") },
		BufferDone:  func() { got = append(got, "done") },
		Flags:       func(flags uint32) { got = append(got, "flags") },
		Ready: func(sec uint64, nsec uint32) {
			if sec != 1<<32|5 || nsec != 7 {
				t.Errorf("ready(%d, %d)", sec, nsec)
			}
			got = append(got, "ready")
		},
	})

	srv.send(frame.ID(), 0, func(e *encoder) { e.Uint(ShmFormatXRGB8888); e.Uint(1920); e.Uint(1080); e.Uint(7680) })
	srv.send(frame.ID(), 5, func(e *encoder) { e.Uint(0x34325258); e.Uint(1920); e.Uint(1080) })
	srv.send(frame.ID(), 6, nil)
	srv.send(frame.ID(), 1, func(e *encoder) { e.Uint(ScreencopyFlagYInvert) })
	srv.send(frame.ID(), 4, func(e *encoder) { e.Uint(0); e.Uint(0); e.Uint(1); e.Uint(1) })
	srv.send(frame.ID(), 2, func(e *encoder) { e.Uint(1); e.Uint(5); e.Uint(7) })
	dispatch(t, c, 6)

	want := []string{"buffer", "dmabuf", "done", "flags", "ready"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	if err := frame.Destroy(); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	srv.expect(frame.ID(), 1)

	// Events racing the destroy are dropped.
	srv.send(frame.ID(), 3, nil)
	dispatch(t, c, 1)
	if len(got) != len(want) {
		t.Errorf("event delivered to destroyed frame: %v", got)
	}
}

func TestOutputEvents(t *testing.T) {
	c, srv := newPair(t)

	out := &Output{}
	c.register(out, "wl_output", 4)
	srv.send(out.ID(), 1, func(e *encoder) { e.Uint(0); e.Int(1280); e.Int(720); e.Int(60000) })
	srv.send(out.ID(), 1, func(e *encoder) { e.Uint(outputModeCurrent); e.Int(2560); e.Int(1440); e.Int(144000) })
	srv.send(out.ID(), 4, func(e *encoder) { e.String("DP-1") })
	srv.send(out.ID(), 2, nil)
	dispatch(t, c, 4)

	if out.Width != 2560 || out.Height != 1440 || out.Name != "DP-1" || !out.Done {
		t.Errorf("Output = %+v", out)
	}
}

func TestPartialMessages(t *testing.T) {
	c, srv := newPair(t)

	cb := &Callback{}
	c.register(cb, "wl_callback", 1)
	msg, err := marshal(cb.ID(), 0, order.AppendUint32(nil, 9))
	if err != nil {
		t.Fatalf("marshal() error: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- c.Dispatch(context.Background()) }()

	srv.sock.Write(msg[:5])
	time.Sleep(10 * time.Millisecond)
	srv.sock.Write(msg[5:])

	if err := <-errc; err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if !cb.Done || cb.Data != 9 {
		t.Errorf("callback = %+v", cb)
	}
}

func TestDispatchHonorsContext(t *testing.T) {
	c, srv := newPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Dispatch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatch() error = %v, want DeadlineExceeded", err)
	}

	cancelled, cancel2 := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel2)
	if err := c.Dispatch(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want Canceled", err)
	}

	// The connection is still usable.
	cb := &Callback{}
	c.register(cb, "wl_callback", 1)
	srv.send(cb.ID(), 0, func(e *encoder) { e.Uint(1) })
	dispatch(t, c, 1)
	if !cb.Done {
		t.Error("callback not delivered after cancellation")
	}
}

func TestServerHangup(t *testing.T) {
	c, srv := newPair(t)
	srv.sock.Close()

	if err := c.Dispatch(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Dispatch() error = %v, want io.EOF", err)
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	t.Setenv("WAYLAND_DISPLAY", "")
	if got, _ := SocketPath(""); got != filepath.Join("/run/user/1000", "wayland-0") {
		t.Errorf("SocketPath(\"\") = %q", got)
	}
	t.Setenv("WAYLAND_DISPLAY", "wayland-1")
	if got, _ := SocketPath(""); got != "/run/user/1000/wayland-1" {
		t.Errorf("SocketPath(\"\") = %q", got)
	}
	if got, _ := SocketPath("/tmp/sock"); got != "/tmp/sock" {
		t.Errorf("SocketPath(abs) = %q", got)
	}
	t.Setenv("XDG_RUNTIME_DIR", "")
	if _, err := SocketPath("wayland-2"); err == nil {
		t.Error("SocketPath() without XDG_RUNTIME_DIR succeeded")
	}
}

func TestShmFormatFourcc(t *testing.T) {
	if ShmFormatFourcc(ShmFormatARGB8888) != 0x34325241 || ShmFormatFourcc(ShmFormatXRGB8888) != 0x34325258 {
		t.Error("wl_shm 0/1 not mapped to AR24/XR24")
	}
	if ShmFormatFourcc(0x34324258) != 0x34324258 {
		t.Error("fourcc formats must pass through")
	}
	for _, f := range []uint32{0, 1, 0x34324258} {
		if FourccShmFormat(ShmFormatFourcc(f)) != f {
			t.Errorf("FourccShmFormat(ShmFormatFourcc(%#x)) != %#x", f, f)
		}
	}
}

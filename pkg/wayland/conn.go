//go:build linux

// Package wayland is a minimal pure Go Wayland client covering what a
// screen capture client needs: the registry, wl_shm, wl_output,
// zwp_linux_dmabuf_v1 and zwlr_screencopy_manager_v1.
//
// A Conn is driven by one goroutine calling Dispatch, which reads and
// handles a single event. Requests may be sent from that goroutine only.
package wayland

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ProtocolError is a fatal wl_display.error event.
type ProtocolError struct {
	Object    ObjectID
	Interface string
	Code      uint32
	Message   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland: protocol error on %s@%d (code %d): %s", e.Interface, e.Object, e.Code, e.Message)
}

// object is implemented by every proxy.
type object interface {
	base() *proxy
	dispatch(opcode uint16, d *decoder) error
}

// proxy is the client side of a protocol object.
type proxy struct {
	conn      *Conn
	id        ObjectID
	iface     string
	version   uint32
	destroyed bool
}

func (p *proxy) base() *proxy { return p }

// ID returns the object id.
func (p *proxy) ID() ObjectID { return p.id }

// Version returns the bound interface version.
func (p *proxy) Version() uint32 { return p.version }

// send issues a request on the object.
func (p *proxy) send(opcode uint16, e *encoder) error {
	if p.destroyed {
		return fmt.Errorf("wayland: request %d on destroyed %s@%d", opcode, p.iface, p.id)
	}
	return p.conn.send(p.id, opcode, e)
}

// destroy sends a destructor request and marks the proxy dead. Events
// still in flight for it are dropped until the server confirms with
// delete_id.
func (p *proxy) destroy(opcode uint16) error {
	if p.destroyed {
		return nil
	}
	err := p.send(opcode, &encoder{})
	p.destroyed = true
	return err
}

// Conn is a client connection to a compositor.
type Conn struct {
	sock    *net.UnixConn
	logger  *slog.Logger
	objects map[ObjectID]object
	nextID  ObjectID
	free    []ObjectID
	display *Display

	in   []byte
	fds  []int
	rbuf []byte
	oob  []byte
	err  error
}

// maxFDs per message accepted in ancillary data.
const maxFDs = 28

// SocketPath resolves a display name like libwayland: empty means
// $WAYLAND_DISPLAY or "wayland-0"; relative names live in $XDG_RUNTIME_DIR.
func SocketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
	}
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", errors.New("wayland: XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(dir, name), nil
}

// Connect dials the compositor socket for display name.
func Connect(name string, logger *slog.Logger) (*Conn, error) {
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}
	sock, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("wayland: connect %s: %w", path, err)
	}
	return NewConn(sock, logger), nil
}

// NewConn wraps an established socket.
func NewConn(sock *net.UnixConn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.With("component", "wayland")
	}
	c := &Conn{
		sock:    sock,
		logger:  logger,
		objects: make(map[ObjectID]object),
		nextID:  2,
		rbuf:    make([]byte, 8192),
		oob:     make([]byte, unix.CmsgSpace(maxFDs*4)),
	}
	c.display = &Display{proxy: proxy{conn: c, id: 1, iface: "wl_display", version: 1}}
	c.objects[1] = c.display
	return c
}

// Display returns the wl_display singleton.
func (c *Conn) Display() *Display {
	return c.display
}

// Close closes the socket and any received descriptors nobody claimed.
func (c *Conn) Close() error {
	for _, fd := range c.fds {
		_ = unix.Close(fd)
	}
	c.fds = nil
	return c.sock.Close()
}

// Err returns the error that broke the connection, if any.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) allocID() ObjectID {
	if n := len(c.free); n > 0 {
		id := c.free[n-1]
		c.free = c.free[:n-1]
		return id
	}
	id := c.nextID
	c.nextID++
	return id
}

// register creates the client side of a new object.
func (c *Conn) register(o object, iface string, version uint32) ObjectID {
	p := o.base()
	p.conn = c
	p.id = c.allocID()
	p.iface = iface
	p.version = version
	c.objects[p.id] = o
	return p.id
}

func (c *Conn) send(id ObjectID, opcode uint16, e *encoder) error {
	if c.err != nil {
		return c.err
	}
	msg, err := marshal(id, opcode, e.buf)
	if err != nil {
		return err
	}
	var oob []byte
	if len(e.fds) > 0 {
		oob = unix.UnixRights(e.fds...)
	}
	n, oobn, err := c.sock.WriteMsgUnix(msg, oob, nil)
	if err == nil && (n != len(msg) || oobn != len(oob)) {
		err = io.ErrShortWrite
	}
	if err != nil {
		c.err = fmt.Errorf("wayland: send: %w", err)
		return c.err
	}
	return nil
}

// Dispatch reads and handles exactly one event, blocking until one
// arrives or ctx is done.
func (c *Conn) Dispatch(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	for len(c.in) < headerSize {
		if err := c.read(ctx); err != nil {
			return err
		}
	}
	id, opcode, size := header(c.in)
	if size < headerSize || size > maxMessageSize {
		c.err = fmt.Errorf("wayland: invalid message size %d", size)
		return c.err
	}
	for len(c.in) < size {
		if err := c.read(ctx); err != nil {
			return err
		}
	}
	body := c.in[headerSize:size]
	c.in = c.in[size:]

	obj, ok := c.objects[id]
	if !ok {
		c.logger.Debug("Event for unknown object", "object", id, "opcode", opcode)
		return nil
	}
	p := obj.base()
	if p.destroyed {
		return nil
	}
	d := &decoder{buf: body, fds: c.takeFD}
	if err := obj.dispatch(opcode, d); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			c.err = err
		}
		return err
	}
	if err := d.Err(); err != nil {
		c.err = fmt.Errorf("wayland: decode %s@%d event %d: %w", p.iface, p.id, opcode, err)
		return c.err
	}
	return nil
}

// Roundtrip blocks until the compositor processed every request sent so
// far, dispatching events meanwhile.
func (c *Conn) Roundtrip(ctx context.Context) error {
	cb, err := c.display.Sync()
	if err != nil {
		return err
	}
	for !cb.Done {
		if err := c.Dispatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) takeFD() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// read appends at least one byte to c.in.
func (c *Conn) read(ctx context.Context) error {
	deadline, _ := ctx.Deadline()
	if err := c.sock.SetReadDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.sock.SetReadDeadline(time.Unix(1, 0))
	})
	n, oobn, _, _, err := c.sock.ReadMsgUnix(c.rbuf, c.oob)
	stop()

	if oobn > 0 {
		if perr := c.parseRights(c.oob[:oobn]); perr != nil {
			c.logger.Warn("Failed to parse ancillary data", "error", perr)
		}
	}
	if n > 0 {
		c.in = append(c.in, c.rbuf[:n]...)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
		c.err = fmt.Errorf("wayland: read: %w", err)
		return c.err
	}
	if n == 0 {
		c.err = fmt.Errorf("wayland: compositor closed the connection: %w", io.EOF)
		return c.err
	}
	return nil
}

func (c *Conn) parseRights(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

// deleteID handles wl_display.delete_id.
func (c *Conn) deleteID(id ObjectID) {
	if _, ok := c.objects[id]; !ok {
		return
	}
	delete(c.objects, id)
	c.free = append(c.free, id)
}

func (c *Conn) interfaceOf(id ObjectID) string {
	if o, ok := c.objects[id]; ok {
		return o.base().iface
	}
	return "unknown"
}

//go:build linux

package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ObjectID identifies a protocol object on a connection. Zero is the null
// object.
type ObjectID uint32

const headerSize = 8

// maxMessageSize is the largest message libwayland accepts.
const maxMessageSize = 4096

var order = binary.NativeEndian

var errShortMessage = errors.New("wayland: message truncated")

// encoder builds one request body.
type encoder struct {
	buf []byte
	fds []int
}

func (e *encoder) Uint(v uint32) {
	e.buf = order.AppendUint32(e.buf, v)
}

func (e *encoder) Int(v int32) {
	e.Uint(uint32(v))
}

func (e *encoder) Object(id ObjectID) {
	e.Uint(uint32(id))
}

// String writes a NUL-terminated, 32-bit aligned string.
func (e *encoder) String(s string) {
	e.Uint(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
}

func (e *encoder) Array(b []byte) {
	e.Uint(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.pad()
}

// FD queues a descriptor for the ancillary data of the message. It takes no
// space in the body.
func (e *encoder) FD(fd int) {
	e.fds = append(e.fds, fd)
}

func (e *encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// marshal prepends the message header.
func marshal(id ObjectID, opcode uint16, body []byte) ([]byte, error) {
	size := headerSize + len(body)
	if size > maxMessageSize {
		return nil, fmt.Errorf("wayland: message of %d bytes exceeds %d", size, maxMessageSize)
	}
	msg := make([]byte, 0, size)
	msg = order.AppendUint32(msg, uint32(id))
	msg = order.AppendUint32(msg, uint32(size)<<16|uint32(opcode))
	return append(msg, body...), nil
}

// header parses a message header.
func header(b []byte) (id ObjectID, opcode uint16, size int) {
	id = ObjectID(order.Uint32(b[0:4]))
	word := order.Uint32(b[4:8])
	return id, uint16(word & 0xffff), int(word >> 16)
}

// decoder reads event arguments. The first error sticks; callers check Err
// once after reading all arguments.
type decoder struct {
	buf []byte
	off int
	fds func() (int, bool)
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = errShortMessage
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) Uint() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

func (d *decoder) Int() int32 {
	return int32(d.Uint())
}

func (d *decoder) Object() ObjectID {
	return ObjectID(d.Uint())
}

// Fixed reads a 24.8 fixed point number.
func (d *decoder) Fixed() float64 {
	return float64(d.Int()) / 256
}

func (d *decoder) String() string {
	n := int(d.Uint())
	if n == 0 {
		return ""
	}
	b := d.take(align(n))
	if b == nil {
		return ""
	}
	if b[n-1] != 0 {
		d.err = errors.New("wayland: string not NUL terminated")
		return ""
	}
	return string(b[:n-1])
}

func (d *decoder) Array() []byte {
	n := int(d.Uint())
	b := d.take(align(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b[:n]...)
}

// FD takes the next received descriptor. The caller owns it.
func (d *decoder) FD() int {
	if d.err != nil {
		return -1
	}
	fd, ok := d.fds()
	if !ok {
		d.err = errors.New("wayland: event expects a file descriptor but none was received")
		return -1
	}
	return fd
}

func (d *decoder) Err() error {
	return d.err
}

func align(n int) int {
	return (n + 3) &^ 3
}

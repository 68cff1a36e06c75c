//go:build linux

// Package linuxbuf allocates CPU-mappable buffers that can be shared with a
// compositor: anonymous shared memory (memfd) for wl_shm, and dma-bufs
// exported from memfd pages through /dev/udmabuf for linux-dmabuf.
package linuxbuf

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultUdmabufDevice is the udmabuf misc device.
const DefaultUdmabufDevice = "/dev/udmabuf"

// ErrReleased is returned by Map after Release.
var ErrReleased = errors.New("linuxbuf: buffer released")

// Kind tells how a Buffer's descriptor was created.
type Kind int

// Buffer kinds.
const (
	KindMemfd   Kind = iota // plain memfd, for wl_shm pools
	KindUdmabuf             // dma-buf exported by udmabuf
)

func (k Kind) String() string {
	if k == KindUdmabuf {
		return "udmabuf"
	}
	return "memfd"
}

// Buffer is a file-descriptor backed memory region. Map and Release must
// not be called concurrently.
type Buffer struct {
	kind     Kind
	fd       int
	size     int
	data     []byte
	released bool
}

// FD returns the descriptor to share with the compositor. It remains owned
// by the Buffer.
func (b *Buffer) FD() int { return b.fd }

// Size returns the allocated size in bytes.
func (b *Buffer) Size() int { return b.size }

// Kind returns how the buffer was allocated.
func (b *Buffer) Kind() Kind { return b.kind }

// Map maps the buffer for reading and writing. Repeated calls return the
// same slice. For dma-bufs a CPU read access window is opened and closed
// again by Release.
func (b *Buffer) Map() ([]byte, error) {
	if b.released {
		return nil, ErrReleased
	}
	if b.data != nil {
		return b.data, nil
	}
	data, err := unix.Mmap(b.fd, 0, b.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("linuxbuf: mmap %s: %w", b.kind, err)
	}
	if b.kind == KindUdmabuf {
		if err := dmaBufSync(b.fd, dmaBufSyncStart|dmaBufSyncRead); err != nil {
			_ = unix.Munmap(data)
			return nil, fmt.Errorf("linuxbuf: begin cpu access: %w", err)
		}
	}
	b.data = data
	return data, nil
}

// Release unmaps the memory and closes the descriptor. It is idempotent.
func (b *Buffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true

	var errs []error
	if b.data != nil {
		if b.kind == KindUdmabuf {
			if err := dmaBufSync(b.fd, dmaBufSyncEnd|dmaBufSyncRead); err != nil {
				errs = append(errs, fmt.Errorf("end cpu access: %w", err))
			}
		}
		if err := unix.Munmap(b.data); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		b.data = nil
	}
	if err := unix.Close(b.fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	b.fd = -1
	return errors.Join(errs...)
}

// PageAlign rounds n up to the page size.
func PageAlign(n int) int {
	page := os.Getpagesize()
	return (n + page - 1) &^ (page - 1)
}

func newMemfd(name string, size int, flags int) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|flags)
	if err != nil {
		return -1, fmt.Errorf("linuxbuf: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("linuxbuf: ftruncate %d: %w", size, err)
	}
	return fd, nil
}

// NewShm allocates size bytes of anonymous shared memory.
func NewShm(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("linuxbuf: invalid size %d", size)
	}
	fd, err := newMemfd("screenglow-shm", size, 0)
	if err != nil {
		return nil, err
	}
	return &Buffer{kind: KindMemfd, fd: fd, size: size}, nil
}

// Udmabuf exports memfd pages as dma-bufs.
type Udmabuf struct {
	mu   sync.Mutex
	path string
	fd   int
}

// OpenUdmabuf opens the udmabuf device at path, or DefaultUdmabufDevice if
// path is empty.
func OpenUdmabuf(path string) (*Udmabuf, error) {
	if path == "" {
		path = DefaultUdmabufDevice
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("linuxbuf: open %s: %w", path, err)
	}
	return &Udmabuf{path: path, fd: fd}, nil
}

// Allocate returns a dma-buf of at least size bytes, rounded up to whole
// pages.
func (u *Udmabuf) Allocate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("linuxbuf: invalid size %d", size)
	}
	size = PageAlign(size)

	memfd, err := newMemfd("screenglow-udmabuf", size, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, err
	}
	defer unix.Close(memfd)

	// udmabuf refuses memfds that could shrink under it.
	if _, err := unix.FcntlInt(uintptr(memfd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		return nil, fmt.Errorf("linuxbuf: seal memfd: %w", err)
	}

	arg := udmabufCreateArg{
		memfd: uint32(memfd),
		flags: udmabufFlagsCloexec,
		size:  uint64(size),
	}
	u.mu.Lock()
	devFD := u.fd
	u.mu.Unlock()
	if devFD < 0 {
		return nil, fmt.Errorf("linuxbuf: %s closed", u.path)
	}
	fd, err := ioctl(devFD, udmabufCreate, unsafe.Pointer(&arg))
	if err != nil {
		return nil, fmt.Errorf("linuxbuf: UDMABUF_CREATE %d bytes: %w", size, err)
	}
	return &Buffer{kind: KindUdmabuf, fd: fd, size: size}, nil
}

// Close closes the device. Buffers already exported stay valid.
func (u *Udmabuf) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fd < 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = -1
	return err
}

//go:build linux

package linuxbuf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request codes from <linux/udmabuf.h> and <linux/dma-buf.h>.
const (
	udmabufCreate   = 0x40187542 // _IOW('u', 0x42, struct udmabuf_create)
	dmaBufIoctlSync = 0x40086200 // _IOW('b', 0, struct dma_buf_sync)

	udmabufFlagsCloexec = 0x01

	dmaBufSyncRead  = 1 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

// udmabufCreateArg is struct udmabuf_create.
type udmabufCreateArg struct {
	memfd  uint32
	flags  uint32
	offset uint64
	size   uint64
}

// dmaBufSyncArg is struct dma_buf_sync.
type dmaBufSyncArg struct {
	flags uint64
}

func ioctl(fd int, req uint, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}

func dmaBufSync(fd int, flags uint64) error {
	arg := dmaBufSyncArg{flags: flags}
	for {
		_, err := ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&arg))
		if err != unix.EINTR && err != unix.EAGAIN {
			return err
		}
	}
}

//go:build linux

package screencopy

import (
	"fmt"

	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/pkg/linuxbuf"
	"github.com/smazurov/screenglow/pkg/wayland"
)

// dmabufPitchAlign is the row alignment used for linear dma-bufs. GPUs
// commonly require 64 or 256 byte pitches; 256 satisfies both.
const dmabufPitchAlign = 256

// ShmAllocator backs wl_shm offers with memfd memory.
type ShmAllocator struct{}

// Allocate implements capture.Allocator.
func (ShmAllocator) Allocate(offer capture.Offer) (capture.Buffer, error) {
	if offer.Kind != capture.OfferShm {
		return nil, fmt.Errorf("shm allocator cannot serve %s offers", offer.Kind)
	}
	if offer.Stride < offer.Width*4 {
		return nil, fmt.Errorf("shm stride %d too small for width %d", offer.Stride, offer.Width)
	}
	size := int(offer.Stride) * int(offer.Height)
	b, err := linuxbuf.NewShm(size)
	if err != nil {
		return nil, err
	}
	return &buffer{b: b, info: capture.BufferInfo{
		Kind:   capture.OfferShm,
		FD:     b.FD(),
		Size:   uint32(size),
		Width:  offer.Width,
		Height: offer.Height,
		Stride: offer.Stride,
		Format: offer.Format,
	}}, nil
}

// DmabufAllocator backs linux-dmabuf offers with linear udmabuf memory.
type DmabufAllocator struct {
	dev *linuxbuf.Udmabuf
}

// NewDmabufAllocator opens the udmabuf device at path (empty for the
// default).
func NewDmabufAllocator(path string) (*DmabufAllocator, error) {
	dev, err := linuxbuf.OpenUdmabuf(path)
	if err != nil {
		return nil, err
	}
	return &DmabufAllocator{dev: dev}, nil
}

// Allocate implements capture.Allocator.
func (a *DmabufAllocator) Allocate(offer capture.Offer) (capture.Buffer, error) {
	if offer.Kind != capture.OfferDMABuf {
		return nil, fmt.Errorf("dma-buf allocator cannot serve %s offers", offer.Kind)
	}
	stride := (offer.Width*4 + dmabufPitchAlign - 1) &^ (dmabufPitchAlign - 1)
	size := int(stride) * int(offer.Height)
	b, err := a.dev.Allocate(size)
	if err != nil {
		return nil, err
	}
	return &buffer{b: b, info: capture.BufferInfo{
		Kind:     capture.OfferDMABuf,
		FD:       b.FD(),
		Size:     uint32(b.Size()),
		Width:    offer.Width,
		Height:   offer.Height,
		Stride:   stride,
		Format:   offer.Format,
		Modifier: wayland.ModifierLinear,
	}}, nil
}

// Close closes the udmabuf device.
func (a *DmabufAllocator) Close() error {
	return a.dev.Close()
}

// buffer adapts a linuxbuf.Buffer to capture.Buffer.
type buffer struct {
	b    *linuxbuf.Buffer
	info capture.BufferInfo
}

func (b *buffer) Info() capture.BufferInfo { return b.info }

func (b *buffer) Map() ([]byte, error) {
	data, err := b.b.Map()
	if err != nil {
		return nil, err
	}
	if n := int(b.info.Stride) * int(b.info.Height); n <= len(data) {
		data = data[:n]
	}
	return data, nil
}

func (b *buffer) Release() error { return b.b.Release() }

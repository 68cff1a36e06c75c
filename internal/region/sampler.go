package region

import (
	"fmt"
	"strings"

	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/fault"
)

// BytesPerPixel of every supported pixel format.
const BytesPerPixel = 4

// ChannelOrder gives the byte offsets of red, green and blue within a pixel.
type ChannelOrder struct {
	R, G, B int
}

// Pixel byte orders. BGRA is the in-memory layout of little-endian
// ARGB8888/XRGB8888, RGBA of ABGR8888/XBGR8888.
var (
	BGRA = ChannelOrder{R: 2, G: 1, B: 0}
	RGBA = ChannelOrder{R: 0, G: 1, B: 2}
)

// Frame is a mapped capture buffer.
type Frame struct {
	Data    []byte
	Width   uint32
	Height  uint32
	Stride  uint32 // bytes per row; 0 means Width*4
	Order   ChannelOrder
	YInvert bool // rows are stored bottom-up
}

func (f Frame) stride() uint64 {
	if f.Stride == 0 {
		return uint64(f.Width) * BytesPerPixel
	}
	return uint64(f.Stride)
}

func (f Frame) row(y uint32) uint32 {
	if f.YInvert {
		return f.Height - 1 - y
	}
	return y
}

// offset returns the byte offset of (x, y) or false if the pixel does not
// lie entirely inside Data.
func (f Frame) offset(x, y uint32) (uint64, bool) {
	off := uint64(f.row(y))*f.stride() + uint64(x)*BytesPerPixel
	if off+BytesPerPixel > uint64(len(f.Data)) {
		return 0, false
	}
	return off, true
}

func (f Frame) checkLayout() error {
	if f.Width == 0 || f.Height == 0 {
		return fault.Newf(fault.CodeOutOfBounds, "empty frame %dx%d", f.Width, f.Height)
	}
	if f.stride() < uint64(f.Width)*BytesPerPixel {
		return fault.Newf(fault.CodeOutOfBounds, "stride %d too small for width %d", f.stride(), f.Width)
	}
	need := uint64(f.Height-1)*f.stride() + uint64(f.Width)*BytesPerPixel
	if uint64(len(f.Data)) < need {
		return fault.Newf(fault.CodeOutOfBounds, "buffer holds %d bytes, %dx%d frame needs %d", len(f.Data), f.Width, f.Height, need)
	}
	return nil
}

// Sampler extracts one color per region. Output order matches regions.
type Sampler interface {
	Sample(f Frame, regions []Region) (colors.Buffer, error)
}

// Policy names a sampling strategy.
type Policy string

// Sampling policies.
const (
	PolicyPoint   Policy = "point"
	PolicyAverage Policy = "average"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyPoint, PolicyAverage:
		return p, nil
	case "":
		return PolicyPoint, nil
	default:
		return "", fault.Newf(fault.CodeConfigInvalid, "unknown sampling policy %q (want point or average)", s)
	}
}

// New returns the sampler for p.
func New(p Policy) (Sampler, error) {
	switch p {
	case PolicyPoint, "":
		return PointSampler{}, nil
	case PolicyAverage:
		return AverageSampler{}, nil
	default:
		return nil, fault.Newf(fault.CodeConfigInvalid, "unknown sampling policy %q", p)
	}
}

// PointSampler reads the single pixel at each region's (X, Y).
type PointSampler struct{}

// Sample implements Sampler.
func (PointSampler) Sample(f Frame, regions []Region) (colors.Buffer, error) {
	if err := f.checkLayout(); err != nil {
		return nil, err
	}
	out := make(colors.Buffer, len(regions))
	for i, r := range regions {
		if err := inBounds(r, f.Width, f.Height); err != nil {
			return nil, fault.Wrap(fault.CodeOutOfBounds, fmt.Sprintf("region %d", i), err)
		}
		c, err := f.pixel(r.X, r.Y)
		if err != nil {
			return nil, fault.Wrap(fault.CodeOutOfBounds, fmt.Sprintf("region %d", i), err)
		}
		out[i] = c
	}
	return out, nil
}

// AverageSampler averages every pixel of each region. Point regions are
// read like PointSampler.
type AverageSampler struct{}

// Sample implements Sampler.
func (AverageSampler) Sample(f Frame, regions []Region) (colors.Buffer, error) {
	if err := f.checkLayout(); err != nil {
		return nil, err
	}
	out := make(colors.Buffer, len(regions))
	for i, r := range regions {
		if err := inBounds(r, f.Width, f.Height); err != nil {
			return nil, fault.Wrap(fault.CodeOutOfBounds, fmt.Sprintf("region %d", i), err)
		}
		var (
			c   colors.RGB
			err error
		)
		if r.IsPoint() {
			c, err = f.pixel(r.X, r.Y)
		} else {
			c, err = f.average(r)
		}
		if err != nil {
			return nil, fault.Wrap(fault.CodeOutOfBounds, fmt.Sprintf("region %d", i), err)
		}
		out[i] = c
	}
	return out, nil
}

// At returns the color of pixel (x, y) in screen coordinates.
func (f Frame) At(x, y uint32) (colors.RGB, error) {
	if x >= f.Width || y >= f.Height {
		return colors.RGB{}, fault.Newf(fault.CodeOutOfBounds, "pixel (%d,%d) outside %dx%d frame", x, y, f.Width, f.Height)
	}
	return f.pixel(x, y)
}

func (f Frame) pixel(x, y uint32) (colors.RGB, error) {
	off, ok := f.offset(x, y)
	if !ok {
		return colors.RGB{}, fmt.Errorf("pixel (%d,%d) outside %d byte buffer", x, y, len(f.Data))
	}
	return colors.RGB{
		R: f.Data[off+uint64(f.Order.R)],
		G: f.Data[off+uint64(f.Order.G)],
		B: f.Data[off+uint64(f.Order.B)],
	}, nil
}

// average sums channels as uint32, which holds for regions of up to
// MaxPixels.
func (f Frame) average(r Region) (colors.RGB, error) {
	var sr, sg, sb uint32
	for y := r.Y; y < r.Y2; y++ {
		start, ok := f.offset(r.X, y)
		end, okEnd := f.offset(r.X2-1, y)
		if !ok || !okEnd {
			return colors.RGB{}, fmt.Errorf("row %d of %s outside %d byte buffer", y, r, len(f.Data))
		}
		row := f.Data[start : end+BytesPerPixel]
		for p := 0; p < len(row); p += BytesPerPixel {
			sr += uint32(row[p+f.Order.R])
			sg += uint32(row[p+f.Order.G])
			sb += uint32(row[p+f.Order.B])
		}
	}
	n := uint32(r.Pixels())
	return colors.RGB{R: uint8(sr / n), G: uint8(sg / n), B: uint8(sb / n)}, nil
}

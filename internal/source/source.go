// Package source defines the producers of color buffers consumed by the
// pipeline. The capture session is one; the gradients here need no display.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/fault"
)

// Source produces the next color buffer, one color per light. It may block.
// The returned buffer belongs to the caller.
type Source interface {
	NextColors(ctx context.Context) (colors.Buffer, error)
}

// Kind selects a source in configuration.
type Kind string

// Source kinds.
const (
	KindCapture  Kind = "capture"
	KindStatic   Kind = "static"
	KindRotating Kind = "rotating"
	KindSolid    Kind = "solid"
)

// ParseKind validates a source kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCapture, KindStatic, KindRotating, KindSolid:
		return k, nil
	case "":
		return KindCapture, nil
	default:
		return "", fault.Newf(fault.CodeConfigInvalid, "unknown source type %q (want capture, static, rotating or solid)", s)
	}
}

// New builds a display-independent source of n colors from palette.
// KindCapture is not handled here.
func New(kind Kind, palette []colors.RGB, n int) (Source, error) {
	if n < 1 {
		return nil, fault.Newf(fault.CodeConfigInvalid, "source needs at least one light, got %d", n)
	}
	if len(palette) == 0 {
		return nil, fault.Newf(fault.CodeConfigInvalid, "%s source needs at least one color", kind)
	}
	switch kind {
	case KindStatic:
		return NewStatic(Gradient(palette, n)), nil
	case KindRotating:
		return NewRotating(Gradient(palette, n)), nil
	case KindSolid:
		return NewSolid(palette[0], n), nil
	default:
		return nil, fault.Newf(fault.CodeConfigInvalid, "source type %q cannot be built from colors", kind)
	}
}

// Gradient spreads n colors evenly across stops, blending neighbouring
// stops in linear RGB. The first and last lights get the first and last
// stop exactly.
func Gradient(stops []colors.RGB, n int) colors.Buffer {
	out := colors.NewBuffer(n)
	if n == 0 || len(stops) == 0 {
		return out
	}
	if len(stops) == 1 || n == 1 {
		for i := range out {
			out[i] = stops[0]
		}
		return out
	}

	cs := make([]colorful.Color, len(stops))
	for i, s := range stops {
		cs[i] = toColorful(s)
	}
	segments := float64(len(stops) - 1)
	for i := range out {
		pos := float64(i) / float64(n-1) * segments
		seg := int(pos)
		if seg >= len(cs)-1 {
			seg = len(cs) - 2
		}
		out[i] = fromColorful(blendLinear(cs[seg], cs[seg+1], pos-float64(seg)))
	}
	out[0], out[n-1] = stops[0], stops[len(stops)-1]
	return out
}

func blendLinear(a, b colorful.Color, t float64) colorful.Color {
	ar, ag, ab := a.LinearRgb()
	br, bg, bb := b.LinearRgb()
	return colorful.LinearRgb(ar+t*(br-ar), ag+t*(bg-ag), ab+t*(bb-ab))
}

func toColorful(c colors.RGB) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

func fromColorful(c colorful.Color) colors.RGB {
	r, g, b := c.Clamped().RGB255()
	return colors.RGB{R: r, G: g, B: b}
}

// Static returns the same colors forever.
type Static struct {
	buf colors.Buffer
}

// NewStatic returns a source that always yields buf.
func NewStatic(buf colors.Buffer) *Static {
	return &Static{buf: buf.Clone()}
}

// NewSolid returns a static source of n lights set to c.
func NewSolid(c colors.RGB, n int) *Static {
	buf := colors.NewBuffer(n)
	for i := range buf {
		buf[i] = c
	}
	return &Static{buf: buf}
}

// NextColors implements Source.
func (s *Static) NextColors(ctx context.Context) (colors.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.buf.Clone(), nil
}

// Rotating shifts a fixed palette by one light per call, wrapping around.
// After len(palette) calls it yields the starting buffer again.
type Rotating struct {
	palette colors.Buffer
	offset  int
}

// NewRotating returns a rotating source over palette.
func NewRotating(palette colors.Buffer) *Rotating {
	return &Rotating{palette: palette.Clone()}
}

// NextColors implements Source.
func (r *Rotating) NextColors(ctx context.Context) (colors.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(r.palette)
	if n == 0 {
		return colors.Buffer{}, nil
	}
	out := make(colors.Buffer, n)
	for i := range out {
		out[i] = r.palette[(i+r.offset)%n]
	}
	r.offset = (r.offset + 1) % n
	return out, nil
}

func (k Kind) String() string { return string(k) }

// Describe returns a short human readable description for logs.
func Describe(s Source) string {
	switch v := s.(type) {
	case *Static:
		return fmt.Sprintf("static(%d lights)", len(v.buf))
	case *Rotating:
		return fmt.Sprintf("rotating(%d lights)", len(v.palette))
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%T", s)
	}
}

// Package colors holds the per-light color types passed between sources,
// the region sampler and the packet encoder.
package colors

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is one light's color.
type RGB struct {
	R, G, B uint8
}

// Buffer is an ordered sequence of colors, one per light, in chain order.
type Buffer []RGB

// NewBuffer returns an all-black buffer for n lights.
func NewBuffer(n int) Buffer {
	return make(Buffer, n)
}

// Clone returns a copy that does not share storage with b.
func (b Buffer) Clone() Buffer {
	if b == nil {
		return nil
	}
	out := make(Buffer, len(b))
	copy(out, b)
	return out
}

// Bytes flattens the buffer into R,G,B byte triples.
func (b Buffer) Bytes() []byte {
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, c.R, c.G, c.B)
	}
	return out
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Hex formats c as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

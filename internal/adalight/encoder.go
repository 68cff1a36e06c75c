// Package adalight frames color buffers in the "Ada" serial protocol
// understood by Adalight-compatible LED controllers.
//
// A packet is a six byte header followed by three bytes per light:
//
//	'A' 'd' 'a' hi(N-1) lo(N-1) hi^lo^0x55 | r b g | r b g | ...
//
// Every channel is gamma corrected. The firmware expects the second and
// third bytes of each triple to be blue and green.
package adalight

import (
	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/gamma"
)

// HeaderSize is the length of the packet header.
const HeaderSize = 6

// MaxLights is the largest light count the 16-bit header can carry.
const MaxLights = 1 << 16

// checksumSalt is xored into the header checksum.
const checksumSalt = 0x55

// Header returns the packet header for n lights. n must be in [1, MaxLights].
func Header(n int) [HeaderSize]byte {
	count := uint16(n - 1)
	hi := byte(count >> 8)
	lo := byte(count)
	return [HeaderSize]byte{'A', 'd', 'a', hi, lo, hi ^ lo ^ checksumSalt}
}

// Size returns the packet length for n lights.
func Size(n int) int {
	return HeaderSize + 3*n
}

// Packet is one encoded frame.
type Packet []byte

// Bytes returns the raw packet.
func (p Packet) Bytes() []byte { return p }

// Header returns the first HeaderSize bytes.
func (p Packet) Header() []byte {
	if len(p) < HeaderSize {
		return nil
	}
	return p[:HeaderSize]
}

// Payload returns the color triples.
func (p Packet) Payload() []byte {
	if len(p) < HeaderSize {
		return nil
	}
	return p[HeaderSize:]
}

// Lights returns the light count announced by the header.
func (p Packet) Lights() int {
	h := p.Header()
	if h == nil {
		return 0
	}
	return (int(h[3])<<8 | int(h[4])) + 1
}

// Encoder encodes color buffers for a fixed light count. The header is
// computed once.
type Encoder struct {
	lights int
	header [HeaderSize]byte
	table  *gamma.Table
}

// NewEncoder returns an encoder for lights LEDs. A nil table selects
// gamma.Default.
func NewEncoder(lights int, table *gamma.Table) (*Encoder, error) {
	if lights < 1 || lights > MaxLights {
		return nil, fault.Newf(fault.CodeSizeMismatch, "light count %d outside [1, %d]", lights, MaxLights)
	}
	if table == nil {
		table = gamma.Default
	}
	return &Encoder{lights: lights, header: Header(lights), table: table}, nil
}

// Lights returns the configured light count.
func (e *Encoder) Lights() int {
	return e.lights
}

// Size returns the length of every packet produced by e.
func (e *Encoder) Size() int {
	return Size(e.lights)
}

// Encode returns a new packet for buf.
func (e *Encoder) Encode(buf colors.Buffer) (Packet, error) {
	return e.EncodeTo(nil, buf)
}

// EncodeTo writes the packet for buf into dst, growing it if needed, and
// returns the packet. It fails with SIZE_MISMATCH unless len(buf) equals
// the configured light count.
func (e *Encoder) EncodeTo(dst []byte, buf colors.Buffer) (Packet, error) {
	if len(buf) != e.lights {
		return nil, fault.Newf(fault.CodeSizeMismatch, "got %d colors for %d lights", len(buf), e.lights)
	}

	size := e.Size()
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	copy(dst, e.header[:])
	out := dst[HeaderSize:]
	for i, c := range buf {
		out[3*i] = e.table.Red(c.R)
		out[3*i+1] = e.table.Blue(c.B)
		out[3*i+2] = e.table.Green(c.G)
	}
	return Packet(dst), nil
}

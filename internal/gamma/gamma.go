// Package gamma provides the LED brightness-correction lookup table.
//
// Values follow f(v) = (v/255)^2.8, scaled per channel so that full red,
// green and blue drive the strip at 255, 240 and 220 respectively. The
// scaling balances typical WS2812-class LEDs; it is not display gamma.
package gamma

import "math"

// Exponent of the correction curve.
const Exponent = 2.8

// Channel selects a color channel.
type Channel int

// Channels.
const (
	Red Channel = iota
	Green
	Blue
)

var channelMax = [3]float64{255, 240, 220}

// Max returns the corrected value of 255 on ch.
func Max(ch Channel) uint8 {
	return uint8(channelMax[ch])
}

// Table maps an input byte to corrected bytes for each channel.
// It is immutable after New and safe for concurrent use.
type Table struct {
	entries [256][3]uint8
}

// Default is the table shared by the process.
var Default = New()

// New builds the table.
func New() *Table {
	t := &Table{}
	for i := range 256 {
		f := math.Pow(float64(i)/255.0, Exponent)
		for ch := range 3 {
			t.entries[i][ch] = uint8(f * channelMax[ch])
		}
	}
	return t
}

// Correct returns the corrected value of v on ch.
func (t *Table) Correct(ch Channel, v uint8) uint8 {
	return t.entries[v][ch]
}

// Red is Correct(Red, v).
func (t *Table) Red(v uint8) uint8 { return t.entries[v][Red] }

// Green is Correct(Green, v).
func (t *Table) Green(v uint8) uint8 { return t.entries[v][Green] }

// Blue is Correct(Blue, v).
func (t *Table) Blue(v uint8) uint8 { return t.entries[v][Blue] }

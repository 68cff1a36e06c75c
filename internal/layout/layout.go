// Package layout generates strip layouts for lights mounted around the
// screen edges.
package layout

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/screenglow/internal/adalight"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/region"
)

// Edge of the screen. Lights are laid out in this order, counter-clockwise
// as seen from the front: right edge bottom to top, top edge right to left,
// left edge top to bottom, bottom edge left to right.
type Edge int

const (
	Right Edge = iota
	Top
	Left
	Bottom
)

func (e Edge) String() string {
	return [...]string{"right", "top", "left", "bottom"}[e]
}

// Options describes the screen and how many lights sit on each edge.
type Options struct {
	Width, Height uint32
	// Segments holds the light count per edge in Edge order. Zero skips
	// an edge.
	Segments [4]int
	// Depth is how far each region reaches into the screen. Zero makes the
	// regions square.
	Depth uint32
}

// ParseSegments reads "20,40,20,40".
func ParseSegments(s string) ([4]int, error) {
	var seg [4]int
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return seg, fault.Newf(fault.CodeConfigInvalid, "segments %q: want four counts (right,top,left,bottom)", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return seg, fault.Newf(fault.CodeConfigInvalid, "segments %q: %s count %q is not a non-negative integer", s, Edge(i), p)
		}
		seg[i] = n
	}
	return seg, nil
}

// Generate returns one region per light.
func Generate(o Options) ([]region.Region, error) {
	if o.Width == 0 || o.Height == 0 {
		return nil, fault.Newf(fault.CodeConfigInvalid, "screen %dx%d is empty", o.Width, o.Height)
	}
	total := 0
	for i, n := range o.Segments {
		length := o.Width
		if Edge(i) == Right || Edge(i) == Left {
			length = o.Height
		}
		if uint32(n) > length {
			return nil, fault.Newf(fault.CodeConfigInvalid, "%d lights on the %s edge exceed its %d pixels", n, Edge(i), length)
		}
		total += n
	}
	if total < 1 || total > adalight.MaxLights {
		return nil, fault.Newf(fault.CodeConfigInvalid, "%d lights, want 1..%d", total, adalight.MaxLights)
	}

	regions := make([]region.Region, 0, total)
	for i, n := range o.Segments {
		regions = append(regions, o.edge(Edge(i), n)...)
	}
	return regions, nil
}

func (o Options) edge(e Edge, n int) []region.Region {
	if n == 0 {
		return nil
	}
	w, h := o.Width, o.Height
	length, across := w, h
	if e == Right || e == Left {
		length, across = h, w
	}
	depth := o.Depth
	if depth == 0 {
		depth = length / uint32(n)
	}
	depth = min(max(depth, 1), across)

	out := make([]region.Region, n)
	for i := range n {
		// Integer bounds tile the edge exactly.
		a := uint32(uint64(i) * uint64(length) / uint64(n))
		b := uint32(uint64(i+1) * uint64(length) / uint64(n))
		switch e {
		case Right:
			out[i] = region.Rect(w-depth, h-b, w, h-a)
		case Top:
			out[i] = region.Rect(w-b, 0, w-a, depth)
		case Left:
			out[i] = region.Rect(0, a, depth, b)
		case Bottom:
			out[i] = region.Rect(a, h-depth, b, h)
		}
	}
	return out
}

type file struct {
	Strip struct {
		LEDs int `toml:"leds"`
	} `toml:"strip"`
	Regions []region.Region `toml:"regions"`
}

// Encode writes regions as a [strip] table and [[regions]] array that
// config.LoadStrip reads back.
func Encode(w io.Writer, o Options, regions []region.Region) error {
	fmt.Fprintf(w, "# %dx%d, lights per edge right=%d top=%d left=%d bottom=%d\n\n",
		o.Width, o.Height, o.Segments[Right], o.Segments[Top], o.Segments[Left], o.Segments[Bottom])

	var f file
	f.Strip.LEDs = len(regions)
	f.Regions = regions
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(false)
	return enc.Encode(f)
}

// Package region maps each light to a screen area and extracts its color
// from a raw 32-bit pixel buffer.
package region

import (
	"fmt"

	"github.com/smazurov/screenglow/internal/fault"
)

// Region is the screen area assigned to one light. A region with X2 == X
// and Y2 == Y is a single-pixel point sample; otherwise it covers the
// half-open rectangle [X, X2) x [Y, Y2).
type Region struct {
	X  uint32 `toml:"x" json:"x"`
	Y  uint32 `toml:"y" json:"y"`
	X2 uint32 `toml:"x2" json:"x2"`
	Y2 uint32 `toml:"y2" json:"y2"`
}

// Point returns a point-sample region.
func Point(x, y uint32) Region {
	return Region{X: x, Y: y, X2: x, Y2: y}
}

// Rect returns an area region.
func Rect(x, y, x2, y2 uint32) Region {
	return Region{X: x, Y: y, X2: x2, Y2: y2}
}

// IsPoint reports whether r is degenerate.
func (r Region) IsPoint() bool {
	return r.X2 == r.X && r.Y2 == r.Y
}

// Pixels returns the number of pixels covered by r.
func (r Region) Pixels() uint64 {
	if r.IsPoint() {
		return 1
	}
	return uint64(r.X2-r.X) * uint64(r.Y2-r.Y)
}

func (r Region) String() string {
	if r.IsPoint() {
		return fmt.Sprintf("(%d,%d)", r.X, r.Y)
	}
	return fmt.Sprintf("[%d,%d)-[%d,%d)", r.X, r.Y, r.X2, r.Y2)
}

// MaxPixels bounds the area of one region so per-channel sums fit in uint32.
const MaxPixels = 1 << 24

// CheckShape rejects rectangles that are inverted, have zero width or
// height without being a point, or cover more than MaxPixels. It does not
// need the frame geometry.
func CheckShape(regions []Region) error {
	for i, r := range regions {
		if r.IsPoint() {
			continue
		}
		if r.X2 <= r.X || r.Y2 <= r.Y {
			return fault.Newf(fault.CodeConfigInvalid, "region %d %s: rectangle must have x2 > x and y2 > y", i, r)
		}
		if r.Pixels() > MaxPixels {
			return fault.Newf(fault.CodeConfigInvalid, "region %d %s: covers %d pixels, limit is %d", i, r, r.Pixels(), MaxPixels)
		}
	}
	return nil
}

// Validate checks every region against a width x height frame.
func Validate(regions []Region, width, height uint32) error {
	for i, r := range regions {
		if err := inBounds(r, width, height); err != nil {
			return fault.Wrap(fault.CodeOutOfBounds, fmt.Sprintf("region %d", i), err)
		}
	}
	return nil
}

func inBounds(r Region, width, height uint32) error {
	if r.X >= width || r.Y >= height {
		return fmt.Errorf("%s starts outside %dx%d frame", r, width, height)
	}
	if r.X2 > width || r.Y2 > height {
		return fmt.Errorf("%s ends outside %dx%d frame", r, width, height)
	}
	if !r.IsPoint() && (r.X2 <= r.X || r.Y2 <= r.Y) {
		return fmt.Errorf("%s is empty", r)
	}
	if r.Pixels() > MaxPixels {
		return fmt.Errorf("%s covers more than %d pixels", r, MaxPixels)
	}
	return nil
}

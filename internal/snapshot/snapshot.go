// Package snapshot renders a captured frame with the strip regions drawn
// on top, for checking a layout against the screen.
package snapshot

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/region"
)

// Outline is the color regions are drawn in.
var Outline = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// pointMark is the half-width of the cross drawn for point regions.
const pointMark = 3

// Recorder wraps a sampler and keeps a copy of the last frame it sampled.
// Pass it as capture.Options.Sampler.
type Recorder struct {
	Sampler region.Sampler

	mu     sync.Mutex
	img    *image.RGBA
	colors colors.Buffer
	err    error
}

// Sample implements region.Sampler.
func (r *Recorder) Sample(f region.Frame, regions []region.Region) (colors.Buffer, error) {
	s := r.Sampler
	if s == nil {
		s = region.PointSampler{}
	}
	out, err := s.Sample(f, regions)
	if err != nil {
		return nil, err
	}
	img, ierr := ToImage(f)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.img, r.colors, r.err = img, out.Clone(), ierr
	return out, nil
}

// Frame returns the last recorded frame and its sampled colors, or nil
// before the first frame.
func (r *Recorder) Frame() (*image.RGBA, colors.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img, r.colors, r.err
}

// ToImage copies a mapped frame into an image in screen orientation.
func ToImage(f region.Frame) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, int(f.Width), int(f.Height)))
	for y := range f.Height {
		for x := range f.Width {
			c, err := f.At(x, y)
			if err != nil {
				return nil, err
			}
			off := img.PixOffset(int(x), int(y))
			img.Pix[off+0] = c.R
			img.Pix[off+1] = c.G
			img.Pix[off+2] = c.B
			img.Pix[off+3] = 0xff
		}
	}
	return img, nil
}

// Annotate draws each region's outline. When sampled holds one color per
// region, a swatch of that color is drawn in the region's corner.
func Annotate(img draw.Image, regions []region.Region, sampled colors.Buffer) {
	for i, r := range regions {
		if r.IsPoint() {
			cross(img, int(r.X), int(r.Y))
			continue
		}
		rect := image.Rect(int(r.X), int(r.Y), int(r.X2), int(r.Y2))
		if len(sampled) == len(regions) {
			swatch := image.Rect(rect.Min.X+1, rect.Min.Y+1, rect.Min.X+1+rect.Dx()/3, rect.Min.Y+1+rect.Dy()/3).Intersect(rect)
			c := sampled[i]
			draw.Draw(img, swatch, image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}), image.Point{}, draw.Src)
		}
		box(img, rect)
	}
}

// Encode writes img as PNG.
func Encode(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

func box(img draw.Image, r image.Rectangle) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, Outline)
		img.Set(x, r.Max.Y-1, Outline)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, Outline)
		img.Set(r.Max.X-1, y, Outline)
	}
}

func cross(img draw.Image, x, y int) {
	for d := -pointMark; d <= pointMark; d++ {
		img.Set(x+d, y, Outline)
		img.Set(x, y+d, Outline)
	}
}

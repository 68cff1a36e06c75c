package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/screenglow/internal/adalight"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/region"
)

// Strip is the light layout: how many lights the controller drives and,
// for screen capture, which area each one samples.
type Strip struct {
	LEDs    int             `toml:"leds" json:"leds"`
	Regions []region.Region `toml:"regions" json:"regions,omitempty"`
}

type stripFile struct {
	Strip struct {
		LEDs   int        `toml:"leds"`
		Points [][]uint32 `toml:"points"`
	} `toml:"strip"`
	Regions []region.Region `toml:"regions"`
}

// LoadStrip reads the layout from [strip] and [[regions]]. Lights are given
// either as [[regions]] tables or as strip.points = [[x, y], ...]. When
// strip.leds is omitted it defaults to the number of regions.
func LoadStrip(path string) (Strip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Strip{}, fault.Wrap(fault.CodeConfigInvalid, "read layout", err)
	}
	return ParseStrip(data)
}

// ParseStrip is LoadStrip on in-memory TOML.
func ParseStrip(data []byte) (Strip, error) {
	var f stripFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Strip{}, fault.Wrap(fault.CodeConfigInvalid, "parse layout", err)
	}
	if len(f.Regions) > 0 && len(f.Strip.Points) > 0 {
		return Strip{}, fault.New(fault.CodeConfigInvalid, "layout sets both [[regions]] and strip.points")
	}

	s := Strip{LEDs: f.Strip.LEDs, Regions: f.Regions}
	for i, p := range f.Strip.Points {
		if len(p) != 2 {
			return Strip{}, fault.Newf(fault.CodeConfigInvalid, "strip.points[%d]: want [x, y], got %d values", i, len(p))
		}
		s.Regions = append(s.Regions, region.Point(p[0], p[1]))
	}
	if s.LEDs == 0 {
		s.LEDs = len(s.Regions)
	}
	return s, nil
}

// Validate checks the layout before any device is opened. Capture sources
// need one region per light; gradient sources only need the light count.
func Validate(s Strip, needRegions bool) error {
	if s.LEDs < 1 || s.LEDs > adalight.MaxLights {
		return fault.Newf(fault.CodeConfigInvalid, "strip.leds = %d, want 1..%d", s.LEDs, adalight.MaxLights)
	}
	if needRegions && len(s.Regions) == 0 {
		return fault.New(fault.CodeConfigInvalid, "screen capture needs [[regions]] or strip.points")
	}
	if len(s.Regions) > 0 && len(s.Regions) != s.LEDs {
		return fault.Newf(fault.CodeConfigInvalid, "%d regions for %d lights", len(s.Regions), s.LEDs)
	}
	if err := region.CheckShape(s.Regions); err != nil {
		return err
	}
	return nil
}

// String summarizes the layout for logs.
func (s Strip) String() string {
	return fmt.Sprintf("%d lights, %d regions", s.LEDs, len(s.Regions))
}

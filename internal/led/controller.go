// Package led drives a board status LED from the pipeline state.
package led

// Pattern is what the LED shows.
type Pattern string

// Patterns.
const (
	PatternOff   Pattern = "off"
	PatternSolid Pattern = "solid"
	PatternBlink Pattern = "blink"
)

// Controller sets the status LED.
type Controller interface {
	Set(p Pattern) error
	// Name identifies the LED, or "" for the no-op controller.
	Name() string
}

package gamma

import "testing"

func TestEndpoints(t *testing.T) {
	table := New()

	tests := []struct {
		name string
		ch   Channel
		max  uint8
	}{
		{"red", Red, 255},
		{"green", Green, 240},
		{"blue", Blue, 220},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Correct(tt.ch, 0); got != 0 {
				t.Errorf("Correct(0) = %d, want 0", got)
			}
			if got := table.Correct(tt.ch, 255); got != tt.max {
				t.Errorf("Correct(255) = %d, want %d", got, tt.max)
			}
			if Max(tt.ch) != tt.max {
				t.Errorf("Max() = %d, want %d", Max(tt.ch), tt.max)
			}
		})
	}
}

func TestMonotonic(t *testing.T) {
	table := New()
	for _, ch := range []Channel{Red, Green, Blue} {
		prev := table.Correct(ch, 0)
		for v := 1; v < 256; v++ {
			cur := table.Correct(ch, uint8(v))
			if cur < prev {
				t.Fatalf("channel %d not monotonic at %d: %d < %d", ch, v, cur, prev)
			}
			prev = cur
		}
	}
}

func TestKnownValues(t *testing.T) {
	table := New()

	// (128/255)^2.8 = 0.14517; truncated per channel.
	if got := table.Red(128); got != 37 {
		t.Errorf("Red(128) = %d, want 37", got)
	}
	if got := table.Green(128); got != 34 {
		t.Errorf("Green(128) = %d, want 34", got)
	}
	if got := table.Blue(128); got != 31 {
		t.Errorf("Blue(128) = %d, want 31", got)
	}
	// Small inputs collapse to zero.
	if got := table.Red(10); got != 0 {
		t.Errorf("Red(10) = %d, want 0", got)
	}
}

func TestDefaultMatchesNew(t *testing.T) {
	fresh := New()
	for v := range 256 {
		for _, ch := range []Channel{Red, Green, Blue} {
			if Default.Correct(ch, uint8(v)) != fresh.Correct(ch, uint8(v)) {
				t.Fatalf("Default differs at channel %d value %d", ch, v)
			}
		}
	}
}

package random

import (
	"testing"
	"time"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		name string
		min  float64
		max  float64
	}{
		{"zero to one", 0.0, 1.0},
		{"negative range", -5.0, -1.0},
		{"around one", 0.5, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 1000 {
				got := Float(tt.min, tt.max)
				if got < tt.min || got > tt.max {
					t.Fatalf("Float(%f, %f) = %f, out of range", tt.min, tt.max, got)
				}
			}
		})
	}
}

func TestJitter(t *testing.T) {
	base := 200 * time.Millisecond

	for range 1000 {
		got := Jitter(base, 0.5)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("Jitter(%v, 0.5) = %v, want within [100ms, 300ms]", base, got)
		}
	}
}

func TestJitterPassthrough(t *testing.T) {
	tests := []struct {
		name   string
		d      time.Duration
		spread float64
	}{
		{"zero duration", 0, 0.5},
		{"negative duration", -time.Second, 0.5},
		{"zero spread", time.Second, 0},
		{"spread above one", time.Second, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jitter(tt.d, tt.spread); got != tt.d {
				t.Errorf("Jitter(%v, %f) = %v, want unchanged", tt.d, tt.spread, got)
			}
		})
	}
}

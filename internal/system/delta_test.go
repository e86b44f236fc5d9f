package system

import (
	"math"
	"testing"
)

func TestDeltaCounter(t *testing.T) {
	tests := []struct {
		name      string
		cur, prev uint64
		want      uint64
	}{
		{"increase", 150, 100, 50},
		{"unchanged", 100, 100, 0},
		{"reset", 10, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeltaCounter(tt.cur, tt.prev); got != tt.want {
				t.Errorf("DeltaCounter(%d, %d) = %d, want %d", tt.cur, tt.prev, got, tt.want)
			}
		})
	}
}

func TestPercentDelta(t *testing.T) {
	tests := []struct {
		name             string
		cur, prev, total uint64
		want             float64
	}{
		{"quarter", 125, 100, 100, 25},
		{"zero total", 125, 100, 0, 0},
		{"counter reset", 50, 100, 100, 0},
		{"clamped", 400, 100, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentDelta(tt.cur, tt.prev, tt.total); got != tt.want {
				t.Errorf("PercentDelta() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampPercent(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{180, 100},
		{math.NaN(), 0},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := ClampPercent(tt.in); got != tt.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPercentOf(t *testing.T) {
	if got := PercentOf(1, 4); got != 25 {
		t.Errorf("PercentOf(1, 4) = %v, want 25", got)
	}
	if got := PercentOf(1, 0); got != 0 {
		t.Errorf("PercentOf(1, 0) = %v, want 0", got)
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"math"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	minB, maxB := 5*time.Second, 900*time.Second
	tests := []struct {
		attempt uint32
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{5, 160 * time.Second},
		{7, 640 * time.Second},
		{8, 900 * time.Second},
		{62, 900 * time.Second},
		{63, 900 * time.Second},
		{math.MaxUint32, 900 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempt, minB, maxB); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoff_NeverExceedsMax(t *testing.T) {
	for attempt := uint32(0); attempt < 200; attempt++ {
		if got := CalculateBackoff(attempt, time.Hour, 2*time.Hour); got > 2*time.Hour {
			t.Fatalf("attempt %d: %s exceeds max", attempt, got)
		}
	}
}

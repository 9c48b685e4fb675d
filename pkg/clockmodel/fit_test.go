// ABOUTME: Tests for the least-squares fit over clock samples
// ABOUTME: Verifies exact recovery of affine relationships and degeneracy handling
package clockmodel

import (
	"errors"
	"math"
	"testing"
)

func TestFitRecoversExactLine(t *testing.T) {
	tests := []struct {
		name       string
		samples    []sample
		wantGain   float64
		wantOffset float64
	}{
		{
			name: "identity mapping",
			samples: []sample{
				{ticks: 0, micros: 0},
				{ticks: 1, micros: 1},
				{ticks: 2, micros: 2},
				{ticks: 3, micros: 3},
			},
			wantGain:   1,
			wantOffset: 0,
		},
		{
			name: "gain ten offset twelve",
			samples: []sample{
				{ticks: 0, micros: 12},
				{ticks: 1, micros: 22},
				{ticks: 2, micros: 32},
				{ticks: 3, micros: 42},
			},
			wantGain:   10,
			wantOffset: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fitSamples(tt.samples)
			if err != nil {
				t.Fatalf("fit failed: %v", err)
			}
			// These inputs are exactly representable, so the fit must be too.
			if f.gain != tt.wantGain {
				t.Errorf("gain = %v, want %v", f.gain, tt.wantGain)
			}
			if f.offset != tt.wantOffset {
				t.Errorf("offset = %v, want %v", f.offset, tt.wantOffset)
			}
		})
	}
}

func TestFitRejectsDegenerateWindow(t *testing.T) {
	samples := []sample{
		{ticks: 5, micros: 100},
		{ticks: 5, micros: 200},
		{ticks: 5, micros: 300},
	}
	if _, err := fitSamples(samples); !errors.Is(err, errDegenerate) {
		t.Errorf("expected errDegenerate, got %v", err)
	}
}

func TestFitAbsorbsSingleOutlier(t *testing.T) {
	// Fifty points on micros = ticks, plus one sample off by 5ms.
	var samples []sample
	for i := 0; i < 50; i++ {
		samples = append(samples, sample{ticks: float64(i * 1000), micros: float64(i * 1000)})
	}
	samples = append(samples, sample{ticks: 25000, micros: 30000})

	f, err := fitSamples(samples)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if math.Abs(f.gain-1) > 0.05 {
		t.Errorf("gain %v drifted too far from 1", f.gain)
	}
	if math.Abs(f.offset) > 200 {
		t.Errorf("offset %v drifted too far from 0", f.offset)
	}
}

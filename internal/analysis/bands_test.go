// SPDX-License-Identifier: MIT
package analysis

import (
	"testing"
	"time"
)

func TestBandRanges(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		fftSize    int
		want       [NumBands]binRange
	}{
		{
			name:       "16k/2048",
			sampleRate: 16000,
			fftSize:    2048,
			// 7.8125 Hz per bin.
			want: [NumBands]binRange{{3, 8}, {8, 32}, {32, 64}, {64, 256}, {256, 512}, {512, 1024}},
		},
		{
			name:       "8k/32 collapses low bands",
			sampleRate: 8000,
			fftSize:    32,
			// 250 Hz per bin.
			want: [NumBands]binRange{{1, 1}, {1, 1}, {1, 2}, {2, 8}, {8, 16}, {16, 16}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bandRanges(tt.sampleRate, tt.fftSize); got != tt.want {
				t.Errorf("bandRanges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBandLevels(t *testing.T) {
	spectrum := make([]byte, 16)
	for i := range spectrum {
		spectrum[i] = 255
	}
	ranges := bandRanges(8000, 32)

	var levels [NumBands]float64
	bandLevels(&levels, spectrum, ranges)

	for i, r := range ranges {
		want := 1.0
		if r.hi <= r.lo {
			want = 0
		}
		if levels[i] != want {
			t.Errorf("band %s level = %v, want %v", Bands[i].Name, levels[i], want)
		}
	}
}

func TestPulseDetector(t *testing.T) {
	start := time.Unix(0, 0)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }

	tests := []struct {
		name   string
		levels []float64
		times  []int
		want   []bool
	}{
		{
			name:   "below threshold",
			levels: []float64{0.1, 0.2, 0.3},
			times:  []int{0, 100, 200},
			want:   []bool{false, false, false},
		},
		{
			name:   "sharp rise fires once",
			levels: []float64{0.1, 0.6, 0.62},
			times:  []int{0, 100, 200},
			want:   []bool{false, true, false},
		},
		{
			name:   "cooldown suppresses",
			levels: []float64{0.1, 0.6, 0.1, 0.7},
			times:  []int{0, 100, 150, 200},
			want:   []bool{false, true, false, false},
		},
		{
			name:   "fires again after cooldown",
			levels: []float64{0.1, 0.6, 0.1, 0.7},
			times:  []int{0, 100, 400, 500},
			want:   []bool{false, true, false, true},
		},
		{
			name:   "first loud reading fires",
			levels: []float64{0.9},
			times:  []int{0},
			want:   []bool{true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewPulseDetector(0.5, 1.5, 250*time.Millisecond)
			var fired uint64
			for i, level := range tt.levels {
				got := d.Process(level, at(tt.times[i]))
				if got != tt.want[i] {
					t.Errorf("Process(%v) at step %d = %v, want %v", level, i, got, tt.want[i])
				}
				if got {
					fired++
				}
			}
			if d.Count() != fired {
				t.Errorf("Count() = %d, want %d", d.Count(), fired)
			}
		})
	}
}

func TestPulseDetectorReset(t *testing.T) {
	d := NewPulseDetector(0.5, 1.5, time.Hour)
	now := time.Now()
	if !d.Process(0.9, now) {
		t.Fatal("first pulse not detected")
	}
	if d.Process(0.95, now.Add(time.Second)) {
		t.Fatal("pulse fired inside cooldown")
	}
	d.Reset()
	if !d.Process(0.9, now.Add(2*time.Second)) {
		t.Error("pulse not detected after Reset")
	}
}

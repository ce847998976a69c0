// SPDX-License-Identifier: MIT
package utils

import (
	"cmp"
	"math"
)

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics,
// normalised to [-0.9, 0.9].
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine at frequency with the
// given peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// FindPeakBin returns the index of the largest value in bins[startBin:endBin+1].
// Bounds are clamped to the slice; ties resolve to the lowest index.
func FindPeakBin[T cmp.Ordered](bins []T, startBin, endBin int) int {
	if len(bins) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(bins) {
		endBin = len(bins) - 1
	}

	if startBin > endBin {
		return startBin
	}

	peakBin := startBin
	peakValue := bins[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if bins[bin] > peakValue {
			peakValue = bins[bin]
			peakBin = bin
		}
	}

	return peakBin
}

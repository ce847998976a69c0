// SPDX-License-Identifier: MIT
package analysis

import "math"

// Band indices into Snapshot.Bands.
const (
	BandSub = iota
	BandBass
	BandLowMid
	BandMid
	BandHighMid
	BandTreble
	NumBands
)

// FrequencyBand is a named frequency range. A HighHz of zero extends the
// band to Nyquist.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// Bands lists the level bands in index order.
var Bands = [NumBands]FrequencyBand{
	{Name: "sub", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "lowMid", LowHz: 250, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "highMid", LowHz: 2000, HighHz: 4000},
	{Name: "treble", LowHz: 4000},
}

// binRange is a half-open range of spectrum bins.
type binRange struct{ lo, hi int }

// bandRanges maps each band onto bins for the given geometry. Bands above
// Nyquist come out empty.
func bandRanges(sampleRate float64, fftSize int) [NumBands]binRange {
	var out [NumBands]binRange
	bins := fftSize / 2
	hzPerBin := sampleRate / float64(fftSize)
	nyquist := sampleRate / 2

	for i, b := range Bands {
		high := b.HighHz
		if high == 0 || high > nyquist {
			high = nyquist
		}
		lo := int(math.Ceil(b.LowHz / hzPerBin))
		hi := int(math.Ceil(high / hzPerBin))
		lo = min(max(lo, 0), bins)
		hi = min(max(hi, lo), bins)
		out[i] = binRange{lo: lo, hi: hi}
	}
	return out
}

// bandLevels averages the byte spectrum over each band, normalised to [0,1].
func bandLevels(dst *[NumBands]float64, spectrum []byte, ranges [NumBands]binRange) {
	for i, r := range ranges {
		if r.hi <= r.lo {
			dst[i] = 0
			continue
		}
		var sum int
		for _, v := range spectrum[r.lo:r.hi] {
			sum += int(v)
		}
		dst[i] = float64(sum) / float64(r.hi-r.lo) / 255
	}
}

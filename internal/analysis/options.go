// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"

	"micscope/pkg/bitint"
)

// FFT size bounds.
const (
	MinFFTSize = 32
	MaxFFTSize = 32768
)

// Options configure an Analyser.
type Options struct {
	FFTSize               int        `yaml:"fft_size"`
	SmoothingTimeConstant float64    `yaml:"smoothing_time_constant"`
	MinDecibels           float64    `yaml:"min_decibels"`
	MaxDecibels           float64    `yaml:"max_decibels"`
	Window                WindowFunc `yaml:"window"`
}

// DefaultOptions returns a 2048-point Blackman FFT with 0.8 smoothing over
// a -100..-30 dB range.
func DefaultOptions() Options {
	return Options{
		FFTSize:               2048,
		SmoothingTimeConstant: 0.8,
		MinDecibels:           -100,
		MaxDecibels:           -30,
		Window:                Blackman,
	}
}

// WithDefaults fills unset fields. The zero Options is DefaultOptions. A zero
// FFTSize takes 2048. A zero MinDecibels takes -100 when MaxDecibels is
// below zero, and a fully zero decibel range takes -100..-30. Smoothing 0
// is kept once any other field is set.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o == (Options{}) {
		return def
	}
	if o.FFTSize == 0 {
		o.FFTSize = def.FFTSize
	}
	switch {
	case o.MinDecibels == 0 && o.MaxDecibels == 0:
		o.MinDecibels, o.MaxDecibels = def.MinDecibels, def.MaxDecibels
	case o.MinDecibels == 0 && o.MaxDecibels < 0:
		o.MinDecibels = def.MinDecibels
	}
	return o
}

// Validate checks ranges. It does not fill defaults.
func (o Options) Validate() error {
	if !bitint.IsPowerOfTwo(o.FFTSize) {
		return fmt.Errorf("fft size must be a power of 2, got %d (nearest %d)", o.FFTSize, bitint.NextPowerOfTwo(o.FFTSize))
	}
	if o.FFTSize < MinFFTSize || o.FFTSize > MaxFFTSize {
		return fmt.Errorf("fft size must be in [%d, %d], got %d", MinFFTSize, MaxFFTSize, o.FFTSize)
	}
	if o.SmoothingTimeConstant < 0 || o.SmoothingTimeConstant > 1 {
		return fmt.Errorf("smoothing time constant must be in [0, 1], got %g", o.SmoothingTimeConstant)
	}
	if o.MinDecibels >= o.MaxDecibels {
		return fmt.Errorf("min decibels (%g) must be below max decibels (%g)", o.MinDecibels, o.MaxDecibels)
	}
	if _, ok := windowNames[o.Window]; !ok {
		return fmt.Errorf("unknown window function %d", int(o.Window))
	}
	return nil
}

// SPDX-License-Identifier: MIT
/*
Package analysis turns captured blocks into pull-based spectral data.

An Analyser keeps the most recent FFTSize samples of a session. Samples are
pushed in by the capture consumer goroutine through a byte ring buffer;
the spectrum is computed lazily by whichever accessor runs next, and only
when new samples arrived since the previous refresh.

Frequency data follows the usual analyser-node conventions: the windowed FFT
magnitude is divided by FFTSize, blended with the previous spectrum using
the smoothing time constant, converted to decibels and mapped linearly from
[MinDecibels, MaxDecibels] onto [0,255].
*/
package analysis

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"micscope/internal/capture"
	applog "micscope/internal/log"
	"micscope/pkg/utils"

	"github.com/smallnest/ringbuffer"
	"gonum.org/v1/gonum/dsp/fourier"
)

const bytesPerSample = 4

// Snapshot is a summary of the analysis at one instant.
type Snapshot struct {
	Spectrum []byte            // copy of FrequencyData
	Average  float64           // mean of Spectrum, in [0,255]
	PeakBin  int               // loudest bin above DC
	PeakHz   float64           // centre frequency of PeakBin
	RMS      float64           // RMS of the time-domain window
	Bands    [NumBands]float64 // per-band level in [0,1], see Bands
}

// Analyser computes spectra over a sliding window of samples. Ingest may run
// concurrently with the accessors; accessors are serialised internally but
// return shared scratch buffers that stay valid only until the next call.
type Analyser struct {
	opts       Options
	sampleRate float64
	untap      func()
	closeOnce  sync.Once

	// Ingest side.
	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	enc     []byte
	discard []byte
	pending bool
	closed  bool

	// Refresh side, guarded by work.
	work      sync.Mutex
	raw       []byte
	history   []float64 // latest FFTSize samples, oldest first
	fft       *fourier.FFT
	window    []float64
	input     []float64
	coeffs    []complex128
	smoothed  []float64
	freq      []byte
	wave      []byte
	freqStale bool
	waveStale bool
	bands     [NumBands]binRange
}

// New returns an analyser bound to src. Zero options are filled as described
// on Options.WithDefaults. Close releases the binding.
func New(src Source, opts Options) (*Analyser, error) {
	if src == nil {
		return nil, fmt.Errorf("analyser: source cannot be nil")
	}
	a, err := NewDetached(src.SampleRate(), opts)
	if err != nil {
		return nil, err
	}
	a.untap = src.Tap(func(b capture.Block) { a.Ingest(b) })
	return a, nil
}

// NewDetached returns an analyser fed only through Ingest.
func NewDetached(sampleRate float64, opts Options) (*Analyser, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("analyser: %w", err)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("analyser: sample rate must be positive, got %f", sampleRate)
	}

	n := opts.FFTSize
	bins := n / 2
	win := make([]float64, n)
	applyWindow(win, opts.Window)

	applog.Debugf("Analysis: Initializing Analyser (Size: %d, SampleRate: %.1f Hz, Window: %v, Smoothing: %.2f)",
		n, sampleRate, opts.Window, opts.SmoothingTimeConstant)

	a := &Analyser{
		opts:       opts,
		sampleRate: sampleRate,
		ring:       ringbuffer.New(n * bytesPerSample),
		enc:        make([]byte, n*bytesPerSample),
		discard:    make([]byte, n*bytesPerSample),
		raw:        make([]byte, n*bytesPerSample),
		history:    make([]float64, n),
		fft:        fourier.NewFFT(n),
		window:     win,
		input:      make([]float64, n),
		coeffs:     make([]complex128, bins+1),
		smoothed:   make([]float64, bins),
		freq:       make([]byte, bins),
		wave:       make([]byte, n),
		freqStale:  true,
		waveStale:  true,
		bands:      bandRanges(sampleRate, n),
	}
	return a, nil
}

// Ingest appends samples to the window. Non-finite samples are stored as
// silence. Ingest after Close is ignored. It does not allocate.
func (a *Analyser) Ingest(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if len(samples) > a.opts.FFTSize {
		samples = samples[len(samples)-a.opts.FFTSize:]
	}
	n := len(samples) * bytesPerSample

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	enc := a.enc[:n]
	for i, s := range samples {
		if f := float64(s); math.IsNaN(f) || math.IsInf(f, 0) {
			s = 0
		}
		binary.LittleEndian.PutUint32(enc[i*bytesPerSample:], math.Float32bits(s))
	}
	// Oldest samples make room.
	if free := a.ring.Free(); free < n {
		_, _ = a.ring.Read(a.discard[:n-free])
	}
	_, _ = a.ring.Write(enc)
	a.pending = true
}

// drain moves newly ingested samples into the history window.
func (a *Analyser) drain() {
	a.mu.Lock()
	if !a.pending {
		a.mu.Unlock()
		return
	}
	n := 0
	if avail := a.ring.Length(); avail > 0 {
		n, _ = a.ring.Read(a.raw[:avail])
	}
	a.pending = false
	a.mu.Unlock()

	count := n / bytesPerSample
	if count == 0 {
		return
	}
	copy(a.history, a.history[count:])
	fresh := a.history[len(a.history)-count:]
	for i := range fresh {
		fresh[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(a.raw[i*bytesPerSample:])))
	}
	a.freqStale = true
	a.waveStale = true
}

func (a *Analyser) refreshFrequency() {
	a.drain()
	if !a.freqStale {
		return
	}
	a.freqStale = false

	for i, x := range a.history {
		a.input[i] = x * a.window[i]
	}
	a.fft.Coefficients(a.coeffs, a.input)

	tau := a.opts.SmoothingTimeConstant
	scale := 1 / float64(a.opts.FFTSize)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) * scale
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		a.freq[k] = a.scaleDecibels(20 * math.Log10(a.smoothed[k]))
	}
}

func (a *Analyser) refreshWave() {
	a.drain()
	if !a.waveStale {
		return
	}
	a.waveStale = false

	for i, x := range a.history {
		a.wave[i] = clampByte(128 * (1 + x))
	}
}

func (a *Analyser) scaleDecibels(db float64) byte {
	return clampByte(255 * (db - a.opts.MinDecibels) / (a.opts.MaxDecibels - a.opts.MinDecibels))
}

// clampByte floors v into [0,255]; NaN maps to 0.
func clampByte(v float64) byte {
	if !(v > 0) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

// FrequencyData refreshes and returns the spectrum, BinCount bytes in
// [0,255]. The slice is reused by later calls.
func (a *Analyser) FrequencyData() []byte {
	a.work.Lock()
	defer a.work.Unlock()
	a.refreshFrequency()
	return a.freq
}

// TimeDomainData refreshes and returns the waveform, FFTSize bytes where
// 128 is silence. The slice is reused by later calls.
func (a *Analyser) TimeDomainData() []byte {
	a.work.Lock()
	defer a.work.Unlock()
	a.refreshWave()
	return a.wave
}

// AverageFrequency refreshes the spectrum and returns its mean, in [0,255].
func (a *Analyser) AverageFrequency() float64 {
	a.work.Lock()
	defer a.work.Unlock()
	a.refreshFrequency()
	return mean(a.freq)
}

// Snapshot refreshes the spectrum and copies a summary into dst, reusing
// dst.Spectrum when it has capacity. The peak is taken from the unclamped
// magnitudes so loud input does not flatten it.
func (a *Analyser) Snapshot(dst *Snapshot) {
	a.work.Lock()
	defer a.work.Unlock()
	a.refreshFrequency()

	dst.Spectrum = append(dst.Spectrum[:0], a.freq...)
	dst.Average = mean(a.freq)
	dst.PeakBin = utils.FindPeakBin(a.smoothed, 1, len(a.smoothed)-1)
	dst.PeakHz = a.FrequencyForBin(dst.PeakBin)
	dst.RMS = rms(a.history)
	bandLevels(&dst.Bands, a.freq, a.bands)
}

// FrequencyForBin returns the centre frequency (Hz) of a bin, or 0 when the
// index is out of range.
func (a *Analyser) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= a.BinCount() {
		return 0
	}
	return float64(binIndex) * a.sampleRate / float64(a.opts.FFTSize)
}

// BinCount returns FFTSize/2.
func (a *Analyser) BinCount() int { return a.opts.FFTSize / 2 }

// FFTSize returns the transform size.
func (a *Analyser) FFTSize() int { return a.opts.FFTSize }

// SampleRate returns the analysed sample rate in Hz.
func (a *Analyser) SampleRate() float64 { return a.sampleRate }

// Options returns the effective options.
func (a *Analyser) Options() Options { return a.opts }

// Close detaches from the source. Later ingest is ignored; accessors keep
// returning the last computed data.
func (a *Analyser) Close() error {
	a.closeOnce.Do(func() {
		if a.untap != nil {
			a.untap()
		}
		a.mu.Lock()
		a.closed = true
		a.pending = false
		a.ring.Reset()
		a.mu.Unlock()
		applog.Debugf("Analysis: Closing Analyser")
	})
	return nil
}

// Closed reports whether Close has been called.
func (a *Analyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func mean(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var sum int
	for _, v := range b {
		sum += int(v)
	}
	return float64(sum) / float64(len(b))
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

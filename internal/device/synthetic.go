// SPDX-License-Identifier: MIT
package device

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	applog "micscope/internal/log"
)

// SyntheticOptions shape the generated signal.
type SyntheticOptions struct {
	Frequency float64 // tone frequency in Hz
	Amplitude float64 // peak amplitude, 0..1
	Noise     float64 // uniform noise amplitude added to the tone
}

// DefaultSyntheticOptions returns a 440 Hz tone at half scale.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{Frequency: 440, Amplitude: 0.5, Noise: 0.01}
}

// Synthetic generates a tone on a ticker that paces quanta at the context's
// sample rate. It needs no audio hardware.
type Synthetic struct {
	opts SyntheticOptions

	mu      sync.Mutex
	sources map[*synthSource]struct{}
}

var (
	_ Provider = (*Synthetic)(nil)
	_ Lister   = (*Synthetic)(nil)
)

// NewSynthetic returns a synthetic provider. Zero options select the defaults.
func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if opts == (SyntheticOptions{}) {
		opts = DefaultSyntheticOptions()
	}
	return &Synthetic{opts: opts, sources: make(map[*synthSource]struct{})}
}

func (s *Synthetic) Name() string { return BackendSynthetic }

func (s *Synthetic) RequestCapture(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(ErrDeviceUnavailable, "request capture", err)
	}
	return &synthStream{label: fmt.Sprintf("synthetic %.0f Hz", s.opts.Frequency)}, nil
}

func (s *Synthetic) CreateContext(sampleRate float64, quantum int) (Context, error) {
	if sampleRate <= 0 || quantum <= 0 {
		return nil, &CaptureError{
			Kind:  ErrContextCreationFailed,
			Op:    "create context",
			Cause: fmt.Errorf("invalid rate %.0f Hz / quantum %d", sampleRate, quantum),
		}
	}
	return &synthContext{owner: s, sampleRate: sampleRate, quantum: quantum}, nil
}

func (s *Synthetic) Devices() ([]Info, error) {
	return []Info{{
		ID:                0,
		Name:              "synthetic",
		MaxInputChannels:  1,
		DefaultSampleRate: 16000,
		Default:           true,
	}}, nil
}

// Interrupt reports err on every connected source, as if the device had been
// unplugged. It returns the number of sources notified.
func (s *Synthetic) Interrupt(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for src := range s.sources {
		select {
		case src.errs <- err:
			n++
		default:
		}
	}
	return n
}

type synthStream struct {
	label string

	mu      sync.Mutex
	stopped bool
}

func (s *synthStream) Label() string { return s.label }

func (s *synthStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *synthStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type synthContext struct {
	owner      *Synthetic
	sampleRate float64
	quantum    int

	mu      sync.Mutex
	sources []*synthSource
	closed  bool
}

func (c *synthContext) SampleRate() float64 { return c.sampleRate }
func (c *synthContext) Quantum() int        { return c.quantum }

func (c *synthContext) Connect(s Stream, sink Sink) (Source, error) {
	st, ok := s.(*synthStream)
	if !ok {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "connect", Cause: fmt.Errorf("stream %T is not a synthetic stream", s)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &CaptureError{Kind: ErrContextCreationFailed, Op: "connect", Cause: fmt.Errorf("context closed")}
	}

	src := &synthSource{
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	c.sources = append(c.sources, src)

	c.owner.mu.Lock()
	c.owner.sources[src] = struct{}{}
	c.owner.mu.Unlock()

	src.detach = func() {
		c.owner.mu.Lock()
		delete(c.owner.sources, src)
		c.owner.mu.Unlock()
	}

	interval := time.Duration(float64(c.quantum) / c.sampleRate * float64(time.Second))
	src.wg.Add(1)
	go src.run(st, sink, c.owner.opts, c.sampleRate, c.quantum, interval)
	return src, nil
}

func (c *synthContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sources := c.sources
	c.sources = nil
	c.mu.Unlock()

	for _, src := range sources {
		src.Disconnect()
	}
	return nil
}

func (c *synthContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type synthSource struct {
	errs   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	detach func()
}

func (s *synthSource) Err() <-chan error { return s.errs }

func (s *synthSource) Disconnect() error {
	s.once.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach()
		}
	})
	s.wg.Wait()
	return nil
}

func (s *synthSource) run(st *synthStream, sink Sink, opts SyntheticOptions, sampleRate float64, quantum int, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]float32, quantum)
	step := 2 * math.Pi * opts.Frequency / sampleRate
	phase := 0.0

	applog.Debugf("synthetic: generating %.0f Hz every %s", opts.Frequency, interval)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if st.isStopped() {
				sink.Process(nil)
				continue
			}
			for i := range buf {
				v := opts.Amplitude * math.Sin(phase)
				if opts.Noise > 0 {
					v += opts.Noise * (2*rand.Float64() - 1)
				}
				buf[i] = float32(v)
				phase += step
			}
			phase = math.Mod(phase, 2*math.Pi)
			sink.Process(buf)
		}
	}
}

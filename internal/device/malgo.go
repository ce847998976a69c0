// SPDX-License-Identifier: MIT
package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	applog "micscope/internal/log"

	"github.com/gen2brain/malgo"
)

// malgoScratchFrames bounds the conversion buffer used inside the data
// callback; larger periods are converted in chunks.
const malgoScratchFrames = 4096

// Malgo captures through miniaudio.
type Malgo struct {
	opts Options
}

var (
	_ Provider = (*Malgo)(nil)
	_ Lister   = (*Malgo)(nil)
)

// NewMalgo returns a miniaudio provider.
func NewMalgo(opts Options) *Malgo {
	return &Malgo{opts: opts}
}

func (m *Malgo) Name() string { return BackendMalgo }

func malgoBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

func initMalgoContext() (*malgo.AllocatedContext, error) {
	return malgo.InitContext([]malgo.Backend{malgoBackend()}, malgo.ContextConfig{}, func(message string) {
		applog.Debugf("malgo: %s", message)
	})
}

// RequestCapture opens a miniaudio context and resolves the capture device.
func (m *Malgo) RequestCapture(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(ErrDeviceUnavailable, "request capture", err)
	}
	if err := checkMicrophoneAccess(); err != nil {
		return nil, err
	}

	mctx, err := initMalgoContext()
	if err != nil {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "init malgo context", Cause: err}
	}
	host := &malgoHost{ctx: mctx}
	host.refs.Store(1)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		host.release()
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "list capture devices", Cause: err}
	}

	s := &malgoStream{host: host, label: "default"}
	switch {
	case m.opts.InputDevice == DefaultInput:
		for _, info := range infos {
			if info.IsDefault != 0 {
				s.label = info.Name()
			}
		}
	case m.opts.InputDevice >= 0 && m.opts.InputDevice < len(infos):
		info := infos[m.opts.InputDevice]
		s.deviceID = info.ID
		s.hasID = true
		s.label = info.Name()
	default:
		host.release()
		return nil, &CaptureError{
			Kind:  ErrDeviceUnavailable,
			Op:    "resolve input device",
			Cause: fmt.Errorf("invalid device ID: %d", m.opts.InputDevice),
		}
	}
	return s, nil
}

// CreateContext records the processing parameters; the device itself is
// opened on Connect.
func (m *Malgo) CreateContext(sampleRate float64, quantum int) (Context, error) {
	if sampleRate <= 0 || quantum <= 0 {
		return nil, &CaptureError{
			Kind:  ErrContextCreationFailed,
			Op:    "create context",
			Cause: fmt.Errorf("invalid rate %.0f Hz / quantum %d", sampleRate, quantum),
		}
	}
	return &malgoContext{sampleRate: sampleRate, quantum: quantum}, nil
}

// Devices lists capture devices known to miniaudio.
func (m *Malgo) Devices() ([]Info, error) {
	mctx, err := initMalgoContext()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	devices := make([]Info, len(infos))
	for i, info := range infos {
		devices[i] = Info{
			ID:               i,
			Name:             info.Name(),
			MaxInputChannels: 1,
			Default:          info.IsDefault != 0,
		}
	}
	return devices, nil
}

// malgoHost reference-counts a miniaudio context shared by a stream and the
// device opened from it.
type malgoHost struct {
	ctx  *malgo.AllocatedContext
	refs atomic.Int32
}

func (h *malgoHost) retain() { h.refs.Add(1) }

func (h *malgoHost) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	if err := h.ctx.Uninit(); err != nil {
		applog.Warnf("malgo: context uninit: %v", err)
	}
	h.ctx.Free()
}

type malgoStream struct {
	host     *malgoHost
	deviceID malgo.DeviceID
	hasID    bool
	label    string

	stopped  atomic.Bool
	stopOnce sync.Once
}

func (s *malgoStream) Label() string { return s.label }

func (s *malgoStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.host.release()
	})
	return nil
}

type malgoContext struct {
	sampleRate float64
	quantum    int

	mu      sync.Mutex
	sources []*malgoSource
	closed  bool
}

func (c *malgoContext) SampleRate() float64 { return c.sampleRate }
func (c *malgoContext) Quantum() int        { return c.quantum }

func (c *malgoContext) Connect(s Stream, sink Sink) (Source, error) {
	st, ok := s.(*malgoStream)
	if !ok {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "connect", Cause: fmt.Errorf("stream %T is not a malgo stream", s)}
	}
	if st.stopped.Load() {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "connect", Cause: fmt.Errorf("stream already stopped")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &CaptureError{Kind: ErrContextCreationFailed, Op: "connect", Cause: fmt.Errorf("context closed")}
	}

	src := &malgoSource{
		host:    st.host,
		errs:    make(chan error, 1),
		scratch: make([]float32, malgoScratchFrames),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.sampleRate)
	cfg.PeriodSizeInFrames = uint32(c.quantum)
	cfg.Alsa.NoMMap = 1
	if st.hasID {
		cfg.Capture.DeviceID = st.deviceID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			if st.stopped.Load() {
				sink.Process(nil)
				return
			}
			src.forward(sink, in, int(frames))
		},
		Stop: src.onStop,
	}

	dev, err := malgo.InitDevice(st.host.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "init device", Cause: err}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "start device", Cause: err}
	}

	st.host.retain()
	src.device = dev
	c.sources = append(c.sources, src)
	return src, nil
}

func (c *malgoContext) Close() error {
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
		if err := src.Disconnect(); err != nil {
			applog.Warnf("malgo: %v", err)
		}
	}
	return nil
}

func (c *malgoContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type malgoSource struct {
	host    *malgoHost
	device  *malgo.Device
	errs    chan error
	scratch []float32

	disconnecting atomic.Bool
	mu            sync.Mutex
	closed        bool
}

func (s *malgoSource) Err() <-chan error { return s.errs }

// forward converts little-endian f32 frames into scratch and hands them to
// the sink without allocating.
func (s *malgoSource) forward(sink Sink, in []byte, frames int) {
	if frames == 0 || len(in) < 4 {
		sink.Process(nil)
		return
	}
	if limit := len(in) / 4; frames > limit {
		frames = limit
	}
	for off := 0; off < frames; {
		n := min(frames-off, len(s.scratch))
		for i := range n {
			bits := binary.LittleEndian.Uint32(in[(off+i)*4:])
			s.scratch[i] = math.Float32frombits(bits)
		}
		sink.Process(s.scratch[:n])
		off += n
	}
}

// onStop runs when miniaudio stops the device, including on unplug.
func (s *malgoSource) onStop() {
	if s.disconnecting.Load() {
		return
	}
	select {
	case s.errs <- &CaptureError{Kind: ErrDeviceUnavailable, Op: "capture", Cause: fmt.Errorf("device stopped unexpectedly")}:
	default:
	}
}

func (s *malgoSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.disconnecting.Store(true)

	err := s.device.Stop()
	s.device.Uninit()
	s.host.release()
	if err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: MIT
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applog "micscope/internal/log"

	"github.com/gordonklaus/portaudio"
)

// paDevicesFunc is replaced in tests.
var paDevicesFunc = portaudio.Devices

// PortAudio captures through the PortAudio host API.
//
// Initialize/Terminate calls nest inside PortAudio: the stream and the
// context each hold one reference, so the library stays up until the last
// handle is released.
type PortAudio struct {
	opts Options
}

var (
	_ Provider = (*PortAudio)(nil)
	_ Lister   = (*PortAudio)(nil)
)

// NewPortAudio returns a PortAudio provider.
func NewPortAudio(opts Options) *PortAudio {
	return &PortAudio{opts: opts}
}

func (p *PortAudio) Name() string { return BackendPortAudio }

// RequestCapture checks microphone permission and resolves the input device.
func (p *PortAudio) RequestCapture(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(ErrDeviceUnavailable, "request capture", err)
	}
	if err := checkMicrophoneAccess(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "initialize portaudio", Cause: err}
	}

	info, err := inputDevice(p.opts.InputDevice)
	if err != nil {
		portaudio.Terminate()
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "resolve input device", Cause: err}
	}
	if info.MaxInputChannels < 1 {
		portaudio.Terminate()
		return nil, &CaptureError{
			Kind:  ErrDeviceUnavailable,
			Op:    "resolve input device",
			Cause: fmt.Errorf("device '%s' has no input channels", info.Name),
		}
	}

	latency := info.DefaultHighInputLatency
	if p.opts.LowLatency {
		latency = info.DefaultLowInputLatency
	}
	applog.Debugf("portaudio: acquired input '%s' (latency %s)", info.Name, latency)

	return &paStream{info: info, latency: latency}, nil
}

// CreateContext validates the processing parameters and takes a library
// reference for the lifetime of the context.
func (p *PortAudio) CreateContext(sampleRate float64, quantum int) (Context, error) {
	if sampleRate <= 0 || quantum <= 0 {
		return nil, &CaptureError{
			Kind:  ErrContextCreationFailed,
			Op:    "create context",
			Cause: fmt.Errorf("invalid rate %.0f Hz / quantum %d", sampleRate, quantum),
		}
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &CaptureError{Kind: ErrContextCreationFailed, Op: "initialize portaudio", Cause: err}
	}
	return &paContext{sampleRate: sampleRate, quantum: quantum}, nil
}

// Devices lists all PortAudio devices.
func (p *PortAudio) Devices() ([]Info, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	def, _ := portaudio.DefaultInputDevice()
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	devices := make([]Info, len(infos))
	for i, info := range infos {
		devices[i] = Info{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           def != nil && def.Name == info.Name && def.HostApi == info.HostApi,
		}
	}
	return devices, nil
}

// inputDevice resolves deviceID to a PortAudio device. DefaultInput selects
// the host default.
func inputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == DefaultInput {
		return portaudio.DefaultInputDevice()
	}

	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	return devices[deviceID], nil
}

type paStream struct {
	info    *portaudio.DeviceInfo
	latency time.Duration

	stopped  atomic.Bool
	stopOnce sync.Once
}

func (s *paStream) Label() string { return s.info.Name }

// Stop ends the tracks. A connected source keeps running but receives no
// input from here on.
func (s *paStream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if tErr := portaudio.Terminate(); tErr != nil {
			err = fmt.Errorf("failed to terminate PortAudio: %w", tErr)
		}
	})
	return err
}

type paContext struct {
	sampleRate float64
	quantum    int

	mu      sync.Mutex
	sources []*paSource
	closed  bool
}

func (c *paContext) SampleRate() float64 { return c.sampleRate }
func (c *paContext) Quantum() int        { return c.quantum }

func (c *paContext) Connect(s Stream, sink Sink) (Source, error) {
	st, ok := s.(*paStream)
	if !ok {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "connect", Cause: fmt.Errorf("stream %T is not a portaudio stream", s)}
	}
	if st.stopped.Load() {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "connect", Cause: fmt.Errorf("stream already stopped")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &CaptureError{Kind: ErrContextCreationFailed, Op: "connect", Cause: fmt.Errorf("context closed")}
	}

	src := &paSource{errs: make(chan error, 1)}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   st.info,
			Channels: 1,
			Latency:  st.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: c.quantum,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		if st.stopped.Load() {
			sink.Process(nil)
			return
		}
		sink.Process(in)
	})
	if err != nil {
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "open stream", Cause: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &CaptureError{Kind: ErrDeviceUnavailable, Op: "start stream", Cause: err}
	}

	src.stream = stream
	c.sources = append(c.sources, src)
	return src, nil
}

func (c *paContext) Close() error {
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
			applog.Warnf("portaudio: %v", err)
		}
	}
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

func (c *paContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type paSource struct {
	stream *portaudio.Stream
	errs   chan error

	mu     sync.Mutex
	closed bool
}

func (s *paSource) Err() <-chan error { return s.errs }

func (s *paSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

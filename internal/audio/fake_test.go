// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"sync"

	"micscope/internal/device"
)

// fakeProvider records every resource operation in order so tests can
// assert acquisition and teardown sequences.
type fakeProvider struct {
	mu  sync.Mutex
	ops []string

	failRequest error
	failContext error
	failConnect error
	failStop    error

	// gate, when set, blocks RequestCapture until it is closed.
	gate    chan struct{}
	entered chan struct{}

	sources []*fakeSource
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{}
}

func (p *fakeProvider) record(op string) {
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

func (p *fakeProvider) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func (p *fakeProvider) reset() {
	p.mu.Lock()
	p.ops = nil
	p.mu.Unlock()
}

func (p *fakeProvider) lastSource() *fakeSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sources) == 0 {
		return nil
	}
	return p.sources[len(p.sources)-1]
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) RequestCapture(ctx context.Context) (device.Stream, error) {
	if p.entered != nil {
		close(p.entered)
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.failRequest != nil {
		p.record("request:fail")
		return nil, p.failRequest
	}
	p.record("request")
	return &fakeStream{p: p}, nil
}

func (p *fakeProvider) CreateContext(sampleRate float64, quantum int) (device.Context, error) {
	if p.failContext != nil {
		p.record("context:fail")
		return nil, p.failContext
	}
	p.record("context")
	return &fakeContext{p: p, rate: sampleRate, quantum: quantum}, nil
}

type fakeStream struct {
	p *fakeProvider
}

func (s *fakeStream) Label() string { return "fake mic" }

func (s *fakeStream) Stop() error {
	s.p.record("stream.stop")
	return s.p.failStop
}

type fakeContext struct {
	p       *fakeProvider
	rate    float64
	quantum int

	mu     sync.Mutex
	closed bool
}

func (c *fakeContext) SampleRate() float64 { return c.rate }
func (c *fakeContext) Quantum() int        { return c.quantum }

func (c *fakeContext) Connect(s device.Stream, sink device.Sink) (device.Source, error) {
	if c.p.failConnect != nil {
		c.p.record("connect:fail")
		return nil, c.p.failConnect
	}
	c.p.record("connect")
	src := &fakeSource{p: c.p, sink: sink, errs: make(chan error, 1)}
	c.p.mu.Lock()
	c.p.sources = append(c.p.sources, src)
	c.p.mu.Unlock()
	return src, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.p.record("context.close")
	return nil
}

func (c *fakeContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSource struct {
	p    *fakeProvider
	sink device.Sink
	errs chan error

	mu           sync.Mutex
	disconnected bool
}

func (s *fakeSource) Err() <-chan error { return s.errs }

func (s *fakeSource) Disconnect() error {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	s.p.record("source.disconnect")
	return nil
}

// feed pushes samples as the device callback would.
func (s *fakeSource) feed(in []float32) {
	s.mu.Lock()
	gone := s.disconnected
	s.mu.Unlock()
	if !gone {
		s.sink.Process(in)
	}
}

var errBoom = errors.New("boom")

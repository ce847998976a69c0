// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"micscope/internal/analysis"
	applog "micscope/internal/log"
	"micscope/internal/stream"
)

// Source is what the publisher samples. *stream.Streamer satisfies it.
type Source interface {
	Status() stream.Status
	Analyser() *analysis.Analyser
}

// PublisherOptions configure a Publisher.
type PublisherOptions struct {
	Interval       time.Duration // tick period; <= 0 selects 33ms (~30 Hz)
	PulseThreshold float64       // normalised average level a pulse must exceed
	PulseRatio     float64       // minimum rise over the previous tick
	PulseCooldown  time.Duration // minimum gap between pulses
}

// DefaultPublisherOptions returns ~30 Hz publishing with moderate pulse
// sensitivity.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{
		Interval:       33 * time.Millisecond,
		PulseThreshold: 0.35,
		PulseRatio:     1.3,
		PulseCooldown:  150 * time.Millisecond,
	}
}

// PublisherStats are cumulative publisher counters.
type PublisherStats struct {
	Published  uint64 // summaries handed to transports
	Pulses     uint64 // summaries flagged as pulses
	SendErrors uint64 // failed Send calls across transports
}

// Publisher periodically snapshots the live analyser and sends a Summary to
// every transport. Nothing is published while no analyser is bound. It runs
// in a separate goroutine managed by Start and Stop.
type Publisher struct {
	src      Source
	sinks    []Transport
	interval time.Duration
	pulse    *analysis.PulseDetector

	ticker   *time.Ticker   // Ticker that triggers publishing.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Stop logic runs once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	// Owned by the publisher goroutine.
	seq  uint32
	snap analysis.Snapshot
	last *analysis.Analyser

	published  atomic.Uint64
	pulses     atomic.Uint64
	sendErrors atomic.Uint64
}

// NewPublisher returns a stopped publisher. Transports are not owned; the
// caller closes them.
func NewPublisher(src Source, opts PublisherOptions, sinks ...Transport) (*Publisher, error) {
	if src == nil {
		return nil, fmt.Errorf("Publisher: source cannot be nil")
	}
	def := DefaultPublisherOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
		applog.Warnf("Publisher: Invalid interval provided, defaulting to %s", opts.Interval)
	}
	if opts.PulseThreshold <= 0 {
		opts.PulseThreshold = def.PulseThreshold
	}
	if opts.PulseRatio <= 0 {
		opts.PulseRatio = def.PulseRatio
	}

	applog.Infof("Publisher: Initializing (Interval: %s, Transports: %d)", opts.Interval, len(sinks))
	return &Publisher{
		src:      src,
		sinks:    sinks,
		interval: opts.Interval,
		pulse:    analysis.NewPulseDetector(opts.PulseThreshold, opts.PulseRatio, opts.PulseCooldown),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is
// a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("Publisher: goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case now := <-ticker.C:
				p.tick(now)
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit. Safe to
// call more than once.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("Publisher: goroutine finished")
	return nil
}

// Close stops the publisher.
func (p *Publisher) Close() error {
	return p.Stop()
}

// PublishStatus sends a status update to every transport. It is meant to be
// registered with Streamer.OnStatus.
func (p *Publisher) PublishStatus(st stream.Status, err error) {
	p.broadcast(NewStatusUpdate(st, err, time.Now()))
}

// Stats returns cumulative counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:  p.published.Load(),
		Pulses:     p.pulses.Load(),
		SendErrors: p.sendErrors.Load(),
	}
}

// tick publishes one summary if an analyser is bound.
func (p *Publisher) tick(now time.Time) {
	a := p.src.Analyser()
	if a != p.last {
		p.pulse.Reset()
		p.last = a
	}
	if a == nil {
		return
	}

	a.Snapshot(&p.snap)
	isPulse := p.pulse.Process(p.snap.Average/255, now)
	p.seq++

	msg := &Summary{
		Type:     TypeSummary,
		Seq:      p.seq,
		Time:     now,
		Status:   p.src.Status(),
		Average:  p.snap.Average,
		PeakHz:   p.snap.PeakHz,
		RMS:      p.snap.RMS,
		Pulse:    isPulse,
		Bands:    BandLevels(p.snap.Bands),
		Spectrum: append([]byte(nil), p.snap.Spectrum...),
	}
	p.published.Add(1)
	if isPulse {
		p.pulses.Add(1)
	}
	p.broadcast(msg)
}

func (p *Publisher) broadcast(msg any) {
	for _, t := range p.sinks {
		if err := t.Send(msg); err != nil {
			p.sendErrors.Add(1)
			applog.Debugf("Publisher: send via %T failed: %v", t, err)
		}
	}
}

var _ interface{ Close() error } = (*Publisher)(nil)

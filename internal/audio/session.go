// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"micscope/internal/capture"
	"micscope/internal/device"
	"micscope/internal/events"

	"github.com/google/uuid"
)

// Session is the set of resources acquired for one capture period. The
// recorder publishes a session only once all four handles are held, and
// drops it before releasing them.
type Session struct {
	ID         uuid.UUID
	Generation uint64
	StartedAt  time.Time
	Device     string

	stream    device.Stream
	context   device.Context
	processor *capture.Processor
	source    device.Source

	bus         *events.Bus
	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// SampleRate returns the processing context rate in Hz.
func (s *Session) SampleRate() float64 { return s.context.SampleRate() }

// Quantum returns the number of frames per delivered block.
func (s *Session) Quantum() int { return s.context.Quantum() }

// Tap calls fn with every block delivered while the session's recorder is
// running. The returned function removes the tap.
func (s *Session) Tap(fn func(capture.Block)) (untap func()) {
	sub := events.On(s.bus, events.KindData, func(d Data) error {
		fn(d.Block)
		return nil
	})
	return sub.Unsubscribe
}

// Stats returns the boundary processor counters for this session.
func (s *Session) Stats() capture.Stats {
	if s.processor == nil {
		return capture.Stats{}
	}
	return s.processor.Stats()
}

// complete reports whether every handle is held.
func (s *Session) complete() bool {
	return s.stream != nil && s.context != nil && s.processor != nil && s.source != nil
}

// release tears the session down in order: stream tracks, source node,
// processor handler, processor, context. Every step runs even if an earlier
// one fails; failures are reported as ErrTeardownInconsistency.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		if s.stream != nil {
			if err := s.stream.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop stream: %w", err))
			}
		}
		if s.source != nil {
			if err := s.source.Disconnect(); err != nil {
				errs = append(errs, fmt.Errorf("disconnect source: %w", err))
			}
		}
		if s.processor != nil {
			s.processor.SetHandler(nil)
			if err := s.processor.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close processor: %w", err))
			}
		}
		if s.context != nil && !s.context.Closed() {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close context: %w", err))
			}
		}
		if s.done != nil {
			close(s.done)
		}
		if len(errs) > 0 {
			s.releaseErr = fmt.Errorf("%w: %w", device.ErrTeardownInconsistency, errors.Join(errs...))
		}
	})
	return s.releaseErr
}

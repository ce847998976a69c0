// SPDX-License-Identifier: MIT
/*
Package stream ties a Recorder and an Analyser together behind a small state
machine. It is the surface visualisers and transports consume.

	idle/error --Start--> starting --recorder start--> active
	starting/active --recorder error--> error
	active --Stop or recorder stop--> idle

Events (published on Streamer.Events):
- status:   StatusChanged, only on an actual change
- analyser: AnalyserChanged, when an analyser is bound or disposed
- data:     audio.Data, forwarded from the recorder
- error:    audio.Failed, forwarded from the recorder

Consumers must not cache the analyser across inactive periods; it is
replaced or cleared on every transition out of active.
*/
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"micscope/internal/analysis"
	"micscope/internal/audio"
	"micscope/internal/capture"
	"micscope/internal/events"
	applog "micscope/internal/log"
)

// Capturer is the device-resource owner driven by a Streamer.
// *audio.Recorder satisfies it.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() error
	Events() *events.Bus
}

// Streamer orchestrates capture and analysis.
type Streamer struct {
	rec  Capturer
	opts analysis.Options
	bus  *events.Bus
	subs []*events.Subscription

	mu       sync.Mutex
	status   Status
	analyser *analysis.Analyser
	bindErr  error // set when the last start could not bind an analyser
}

// New returns an idle streamer driving rec. Analyser options are defaulted
// and validated up front so binding a session cannot fail on configuration.
func New(rec Capturer, opts analysis.Options) (*Streamer, error) {
	if rec == nil {
		return nil, fmt.Errorf("stream: capturer cannot be nil")
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}

	s := &Streamer{
		rec:  rec,
		opts: opts,
		bus:  events.NewBus(),
	}
	rb := rec.Events()
	s.subs = []*events.Subscription{
		events.On(rb, events.KindStart, s.onStart),
		events.On(rb, events.KindStop, s.onStop),
		events.On(rb, events.KindError, s.onError),
		events.On(rb, events.KindData, s.onData),
	}
	return s, nil
}

// Events returns the bus the streamer publishes on.
func (s *Streamer) Events() *events.Bus { return s.bus }

// Status returns the current status.
func (s *Streamer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Analyser returns the live analyser, or nil unless active.
func (s *Streamer) Analyser() *analysis.Analyser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyser
}

// IsActive reports whether the status is active.
func (s *Streamer) IsActive() bool { return s.Status() == StatusActive }

// Start begins capture. It is a no-op while starting or active. Errors from
// the recorder are returned after the status has settled.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusStarting || s.status == StatusActive {
		s.mu.Unlock()
		applog.Debugf("Stream: Start ignored in status %s", s.status)
		return nil
	}
	prev := s.status
	s.status = StatusStarting
	s.bindErr = nil
	s.mu.Unlock()

	if err := s.emitStatus(StatusStarting, prev); err != nil {
		applog.Warnf("Stream: status handler failed: %v", err)
	}

	err := s.rec.Start(ctx)
	if errors.Is(err, audio.ErrSuperseded) {
		applog.Debugf("Stream: start superseded by stop")
	}
	if err == nil {
		s.mu.Lock()
		err, s.bindErr = s.bindErr, nil
		s.mu.Unlock()
	}
	return err
}

// Stop ends capture. The recorder always publishes stop, which drives the
// transition.
func (s *Streamer) Stop() error {
	return s.rec.Stop()
}

// Close stops capture and detaches from the recorder's bus.
func (s *Streamer) Close() error {
	err := s.Stop()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	return err
}

func (s *Streamer) onStart(ev audio.Started) error {
	s.mu.Lock()
	if s.status != StatusStarting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	a, err := analysis.New(ev.Session, s.opts)
	if err != nil {
		err = s.fail(fmt.Errorf("bind analyser: %w", err))
		s.mu.Lock()
		s.bindErr = err
		s.mu.Unlock()
		if stopErr := s.rec.Stop(); stopErr != nil {
			applog.Warnf("Stream: stop handler failed: %v", stopErr)
		}
		return err
	}

	s.mu.Lock()
	if s.status != StatusStarting {
		s.mu.Unlock()
		_ = a.Close()
		return nil
	}
	old := s.analyser
	s.analyser = a
	s.status = StatusActive
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	applog.Infof("Stream: active (session %s, %d bins, %s window)", ev.Session.ID, a.BinCount(), a.Options().Window)

	if err := s.bus.Emit(AnalyserChanged{Analyser: a}); err != nil {
		return err
	}
	return s.emitStatus(StatusActive, StatusStarting)
}

func (s *Streamer) onStop(audio.Stopped) error {
	s.mu.Lock()
	prev := s.status
	a := s.analyser
	s.analyser = nil
	switch prev {
	case StatusActive, StatusStarting:
		s.status = StatusIdle
	}
	s.mu.Unlock()

	if a != nil {
		_ = a.Close()
		if err := s.bus.Emit(AnalyserChanged{}); err != nil {
			return err
		}
	}
	if prev == StatusActive || prev == StatusStarting {
		applog.Infof("Stream: idle")
		return s.emitStatus(StatusIdle, prev)
	}
	return nil
}

func (s *Streamer) onError(ev audio.Failed) error {
	s.mu.Lock()
	prev := s.status
	if prev == StatusStarting || prev == StatusActive {
		s.status = StatusError
	}
	s.mu.Unlock()

	if prev == StatusStarting || prev == StatusActive {
		applog.Errorf("Stream: %s", ev.Cause)
		if err := s.emitStatus(StatusError, prev); err != nil {
			return err
		}
	}
	return s.bus.Emit(ev)
}

func (s *Streamer) onData(ev audio.Data) error {
	return s.bus.Emit(ev)
}

// fail moves to error after a failure the recorder did not report.
func (s *Streamer) fail(err error) error {
	s.mu.Lock()
	prev := s.status
	s.status = StatusError
	s.mu.Unlock()

	applog.Errorf("Stream: %v", err)
	if prev != StatusError {
		if emitErr := s.emitStatus(StatusError, prev); emitErr != nil {
			applog.Warnf("Stream: status handler failed: %v", emitErr)
		}
	}
	if emitErr := s.bus.Emit(audio.Failed{Err: err, Cause: err.Error()}); emitErr != nil {
		applog.Warnf("Stream: error handler failed: %v", emitErr)
	}
	return err
}

func (s *Streamer) emitStatus(status, prev Status) error {
	if status == prev {
		return nil
	}
	return s.bus.Emit(StatusChanged{Status: status, Previous: prev})
}

// OnStatus subscribes fn to status changes.
func (s *Streamer) OnStatus(fn func(Status)) *events.Subscription {
	return events.On(s.bus, events.KindStatus, func(ev StatusChanged) error {
		fn(ev.Status)
		return nil
	})
}

// OnAnalyser subscribes fn to analyser changes; fn receives nil on dispose.
func (s *Streamer) OnAnalyser(fn func(*analysis.Analyser)) *events.Subscription {
	return events.On(s.bus, events.KindAnalyser, func(ev AnalyserChanged) error {
		fn(ev.Analyser)
		return nil
	})
}

// OnData subscribes fn to captured blocks. fn runs on the capture consumer
// goroutine and must not call Stop.
func (s *Streamer) OnData(fn func(capture.Block)) *events.Subscription {
	return events.On(s.bus, events.KindData, func(ev audio.Data) error {
		fn(ev.Block)
		return nil
	})
}

// OnError subscribes fn to capture failures.
func (s *Streamer) OnError(fn func(error)) *events.Subscription {
	return events.On(s.bus, events.KindError, func(ev audio.Failed) error {
		fn(ev.Err)
		return nil
	})
}

// SPDX-License-Identifier: MIT
/*
Package audio owns the microphone for the lifetime of a capture session.

The Recorder acquires a device stream, a processing context, a boundary
processor and the source node connecting them, publishes them as one
Session, and releases them in a fixed order on Stop.

Events (published on Recorder.Events):
- start: Started, after the session is live
- data:  Data, once per delivered block
- error: Failed, when acquisition fails or the device is lost
- stop:  Stopped, on every Stop call
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"micscope/internal/capture"
	"micscope/internal/device"
	"micscope/internal/events"
	applog "micscope/internal/log"

	"github.com/google/uuid"
)

// Processing defaults.
const (
	TargetSampleRate = 16000
	DefaultQuantum   = capture.DefaultQuantum
	DefaultDepth     = capture.DefaultDepth
)

// ErrSuperseded is returned by a Start that was overtaken by Stop before it
// finished acquiring resources.
var ErrSuperseded = errors.New("capture start superseded by stop")

// Started is published once a session is live.
type Started struct{ Session *Session }

// Stopped is published by every Stop call.
type Stopped struct{}

// Failed carries an acquisition or device failure. Cause is the
// human-readable message.
type Failed struct {
	Err   error
	Cause string
}

// Data carries one captured block.
type Data struct{ Block capture.Block }

func (Started) Kind() events.Kind { return events.KindStart }
func (Stopped) Kind() events.Kind { return events.KindStop }
func (Failed) Kind() events.Kind  { return events.KindError }
func (Data) Kind() events.Kind    { return events.KindData }

func newFailed(err error) Failed {
	return Failed{Err: err, Cause: err.Error()}
}

// Options configure a Recorder.
type Options struct {
	SampleRate   float64 // processing context rate in Hz
	Quantum      int     // frames per block
	HandoffDepth int     // blocks buffered between the callback and consumers
}

// DefaultOptions returns 16 kHz, 128-frame quanta and a 32-block handoff.
func DefaultOptions() Options {
	return Options{
		SampleRate:   TargetSampleRate,
		Quantum:      DefaultQuantum,
		HandoffDepth: DefaultDepth,
	}
}

// Stats are cumulative recorder counters.
type Stats struct {
	Sessions uint64        // sessions that went live
	Failures uint64        // failed starts and lost devices
	Capture  capture.Stats // boundary counters across all sessions
}

// Recorder owns device resources. Start and Stop may be called from
// different goroutines; a Stop that lands while Start is still acquiring
// wins, and the Start returns ErrSuperseded.
//
// Handlers for the data event must not call Stop synchronously.
type Recorder struct {
	provider device.Provider
	opts     Options
	bus      *events.Bus

	mu         sync.Mutex
	session    *Session
	starting   bool
	generation uint64

	sessions atomic.Uint64
	failures atomic.Uint64
	retired  capture.Stats // guarded by mu
}

// NewRecorder returns a stopped recorder. Zero option fields take defaults.
func NewRecorder(p device.Provider, opts Options) (*Recorder, error) {
	if p == nil {
		return nil, fmt.Errorf("recorder: provider cannot be nil")
	}
	def := DefaultOptions()
	if opts.SampleRate == 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.Quantum == 0 {
		opts.Quantum = def.Quantum
	}
	if opts.HandoffDepth == 0 {
		opts.HandoffDepth = def.HandoffDepth
	}
	if opts.SampleRate < 0 || opts.Quantum < 0 || opts.HandoffDepth < 0 {
		return nil, fmt.Errorf("recorder: invalid options %+v", opts)
	}

	return &Recorder{
		provider: p,
		opts:     opts,
		bus:      events.NewBus(),
	}, nil
}

// Events returns the bus the recorder publishes on.
func (r *Recorder) Events() *events.Bus { return r.bus }

// Provider returns the device provider.
func (r *Recorder) Provider() device.Provider { return r.provider }

// Start acquires a capture session. It is a no-op if a session is live or
// being acquired. On failure every acquired resource is released, Failed is
// published, Stop runs unless another Start or Stop got there first, and the
// error is returned. Start handler errors are logged; the session stays live.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.session != nil || r.starting {
		r.mu.Unlock()
		applog.Warnf("Recorder: Start called but capture is already active.")
		return nil
	}
	r.starting = true
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	sess, err := r.acquire(ctx, gen)

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		if sess != nil {
			if relErr := sess.release(); relErr != nil {
				applog.Errorf("Recorder: %v", relErr)
			}
		}
		applog.Debugf("Recorder: start of generation %d superseded", gen)
		return ErrSuperseded
	}
	if err != nil {
		r.starting = false
		r.mu.Unlock()

		r.failures.Add(1)
		applog.Errorf("Recorder: failed to start capture: %v", err)
		if emitErr := r.bus.Emit(newFailed(err)); emitErr != nil {
			applog.Warnf("Recorder: error handler failed: %v", emitErr)
		}
		if stopErr := r.stopIfCurrent(gen); stopErr != nil {
			applog.Warnf("Recorder: stop handler failed: %v", stopErr)
		}
		return err
	}
	r.session = sess
	r.starting = false
	r.mu.Unlock()

	r.sessions.Add(1)
	go r.watch(sess)

	applog.Infof("Recorder: capturing from '%s' at %.0f Hz (session %s)", sess.Device, sess.SampleRate(), sess.ID)
	if err := r.bus.Emit(Started{Session: sess}); err != nil {
		applog.Warnf("Recorder: start handler failed: %v", err)
	}
	return nil
}

// acquire builds a complete session or releases everything it took.
func (r *Recorder) acquire(ctx context.Context, gen uint64) (*Session, error) {
	sess := &Session{
		ID:         uuid.New(),
		Generation: gen,
		bus:        r.bus,
		done:       make(chan struct{}),
	}
	fail := func(err error) (*Session, error) {
		if relErr := sess.release(); relErr != nil {
			applog.Errorf("Recorder: %v", relErr)
		}
		return nil, err
	}

	stream, err := r.provider.RequestCapture(ctx)
	if err != nil {
		return fail(device.Classify(device.ErrDeviceUnavailable, "request capture", err))
	}
	sess.stream = stream
	sess.Device = stream.Label()

	pctx, err := r.provider.CreateContext(r.opts.SampleRate, r.opts.Quantum)
	if err != nil {
		return fail(device.Classify(device.ErrContextCreationFailed, "create context", err))
	}
	sess.context = pctx

	proc, err := capture.NewProcessor(pctx.Quantum(), r.opts.HandoffDepth)
	if err != nil {
		return fail(device.Classify(device.ErrContextCreationFailed, "create processor", err))
	}
	sess.processor = proc

	src, err := pctx.Connect(stream, proc)
	if err != nil {
		return fail(device.Classify(device.ErrDeviceUnavailable, "connect source", err))
	}
	sess.source = src

	proc.SetHandler(func(b capture.Block) {
		if err := r.bus.Emit(Data{Block: b}); err != nil {
			applog.Debugf("Recorder: data handler failed: %v", err)
		}
	})
	sess.StartedAt = time.Now()
	return sess, nil
}

// Stop releases the current session, if any, and always publishes Stopped.
// Safe to call at any time, including while Start is in progress.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	sess := r.detachLocked()
	r.mu.Unlock()
	return r.finishStop(sess)
}

// stopIfCurrent stops only if no Start or Stop has run since generation gen.
// A failure path whose session was already replaced becomes a no-op.
func (r *Recorder) stopIfCurrent(gen uint64) error {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		applog.Debugf("Recorder: generation %d already stopped", gen)
		return nil
	}
	sess := r.detachLocked()
	r.mu.Unlock()
	return r.finishStop(sess)
}

func (r *Recorder) detachLocked() *Session {
	r.generation++
	r.starting = false
	sess := r.session
	r.session = nil
	return sess
}

func (r *Recorder) finishStop(sess *Session) error {
	if sess != nil {
		if err := sess.release(); err != nil {
			// Resources are unreachable either way; the recorder stays idle.
			applog.Errorf("Recorder: %v", err)
		}
		r.mu.Lock()
		r.retired = r.retired.Add(sess.Stats())
		r.mu.Unlock()
		applog.Infof("Recorder: session %s stopped after %s", sess.ID, time.Since(sess.StartedAt).Round(time.Millisecond))
	}

	return r.bus.Emit(Stopped{})
}

// IsActive reports whether a session is live.
func (r *Recorder) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Session returns the live session or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Stats returns cumulative counters including the live session.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	c := r.retired
	if r.session != nil {
		c = c.Add(r.session.Stats())
	}
	r.mu.Unlock()

	return Stats{
		Sessions: r.sessions.Load(),
		Failures: r.failures.Load(),
		Capture:  c,
	}
}

// watch turns an asynchronous device failure into Failed followed by Stop.
func (r *Recorder) watch(sess *Session) {
	select {
	case <-sess.done:
	case err, ok := <-sess.source.Err():
		if !ok || err == nil {
			return
		}
		r.abort(sess, err)
	}
}

func (r *Recorder) abort(sess *Session, err error) {
	r.mu.Lock()
	current := r.session == sess
	r.mu.Unlock()
	if !current {
		return
	}

	r.failures.Add(1)
	err = device.Classify(device.ErrDeviceUnavailable, "capture", err)
	applog.Errorf("Recorder: lost device during session %s: %v", sess.ID, err)
	if emitErr := r.bus.Emit(newFailed(err)); emitErr != nil {
		applog.Warnf("Recorder: error handler failed: %v", emitErr)
	}
	if stopErr := r.stopIfCurrent(sess.Generation); stopErr != nil {
		applog.Warnf("Recorder: stop handler failed: %v", stopErr)
	}
}

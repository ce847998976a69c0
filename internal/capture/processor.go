// SPDX-License-Identifier: MIT
/*
Package capture implements the boundary between the real-time audio callback
and the rest of the program.

Process runs on the device callback thread:
- Copies into preallocated slots only, never allocates
- Never blocks; a block is dropped when no slot is free
- Skips quanta that arrive without an input channel

A consumer goroutine turns each slot into an owned Block and hands it to the
registered Handler.
*/
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultQuantum is the number of frames per processing quantum.
	DefaultQuantum = 128
	// DefaultDepth is the number of quanta that can be in flight.
	DefaultDepth = 32
)

// Block is one quantum of normalized mono samples. A Block is owned by the
// receiver and never reused by the processor.
type Block []float32

// Handler receives blocks on the consumer goroutine.
type Handler func(Block)

// Stats are cumulative counters for one processor.
type Stats struct {
	Delivered uint64 // blocks handed to a handler
	Skipped   uint64 // quanta without an input channel
	Dropped   uint64 // blocks lost to backpressure
}

// Add returns the sum of two counter sets.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Delivered: s.Delivered + o.Delivered,
		Skipped:   s.Skipped + o.Skipped,
		Dropped:   s.Dropped + o.Dropped,
	}
}

// Processor hands real-time blocks to a cooperative consumer.
type Processor struct {
	quantum int

	free chan []float32 // slots owned by the producer side
	data chan []float32 // filled slots waiting for the consumer

	handler atomic.Pointer[Handler]
	closed  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	delivered atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
}

// NewProcessor allocates depth slots of quantum frames and starts the
// consumer goroutine.
func NewProcessor(quantum, depth int) (*Processor, error) {
	p, err := newProcessor(quantum, depth)
	if err != nil {
		return nil, err
	}
	p.start()
	return p, nil
}

func newProcessor(quantum, depth int) (*Processor, error) {
	if quantum <= 0 {
		return nil, fmt.Errorf("quantum must be positive, got %d", quantum)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("handoff depth must be positive, got %d", depth)
	}

	p := &Processor{
		quantum: quantum,
		free:    make(chan []float32, depth),
		data:    make(chan []float32, depth),
		done:    make(chan struct{}),
	}
	for range depth {
		p.free <- make([]float32, quantum)
	}
	return p, nil
}

func (p *Processor) start() {
	p.wg.Add(1)
	go p.consume()
}

// Quantum returns the slot size in frames.
func (p *Processor) Quantum() int { return p.quantum }

// Process copies in across the boundary. Inputs longer than one quantum are
// split. A nil or empty input means the device delivered no channel for this
// quantum and is counted as skipped.
//
// Safe to call from a real-time callback.
func (p *Processor) Process(in []float32) {
	if p.closed.Load() {
		return
	}
	if len(in) == 0 {
		p.skipped.Add(1)
		return
	}

	for len(in) > 0 {
		var slot []float32
		select {
		case slot = <-p.free:
		default:
			// Consumer is behind; losing audio beats stalling the callback.
			p.dropped.Add(1)
			return
		}

		n := copy(slot[:cap(slot)], in)
		in = in[n:]

		select {
		case p.data <- slot[:n]:
		default:
			p.free <- slot[:cap(slot)]
			p.dropped.Add(1)
			return
		}
	}
}

// SetHandler installs h. A nil handler clears the current one; blocks that
// arrive without a handler are discarded.
func (p *Processor) SetHandler(h Handler) {
	if h == nil {
		p.handler.Store(nil)
		return
	}
	p.handler.Store(&h)
}

// Close stops the consumer goroutine and turns Process into a no-op. Close
// must not be called from a Handler.
func (p *Processor) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.handler.Store(nil)
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

// Closed reports whether Close has been called.
func (p *Processor) Closed() bool { return p.closed.Load() }

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Delivered: p.delivered.Load(),
		Skipped:   p.skipped.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Processor) consume() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case slot := <-p.data:
			p.deliver(slot)
		}
	}
}

func (p *Processor) deliver(slot []float32) {
	block := make(Block, len(slot))
	copy(block, slot)
	p.free <- slot[:cap(slot)]

	h := p.handler.Load()
	if h == nil {
		return
	}
	(*h)(block)
	p.delivered.Add(1)
}

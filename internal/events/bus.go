// SPDX-License-Identifier: MIT
/*
Package events implements the synchronous, ordered event bus shared by the
capture pipeline.

Every event carries a Kind. Handlers subscribe to a kind and receive events of
that kind in registration order. Emit runs on the caller's goroutine; the bus
never spawns goroutines of its own.
*/
package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Kind identifies an event family.
type Kind int

const (
	KindStart Kind = iota
	KindStop
	KindError
	KindData
	KindStatus
	KindAnalyser
)

// String returns the lower-case event name.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindError:
		return "error"
	case KindData:
		return "data"
	case KindStatus:
		return "status"
	case KindAnalyser:
		return "analyser"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is implemented by every payload published on a Bus.
type Event interface {
	Kind() Kind
}

// Handler receives an event. A non-nil error stops the current emission.
type Handler func(Event) error

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("event handler panicked")

var errNilEvent = errors.New("events: cannot emit nil event")

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus     *Bus
	kind    Kind
	handler Handler
	active  atomic.Bool
}

// Kind returns the event kind this subscription listens to.
func (s *Subscription) Kind() Kind { return s.kind }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe removes the subscription from its bus. Safe to call more than
// once and from inside the subscription's own handler.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s)
}

// Bus is a registry of ordered subscriptions keyed by Kind.
// The zero value is not usable; create one with NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[Kind][]*Subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]*Subscription)}
}

// Subscribe registers h for events of the given kind.
func (b *Bus) Subscribe(kind Kind, h Handler) *Subscription {
	sub := &Subscription{bus: b, kind: kind, handler: h}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub. A subscription removed while an emission is in
// progress is skipped for the remainder of that pass.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.active.Swap(false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.kind]
	for i, s := range list {
		if s != sub {
			continue
		}
		// Copy on removal: in-flight emissions keep iterating their snapshot.
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.kind)
		} else {
			b.subs[sub.kind] = next
		}
		return
	}
}

// Len returns the number of active subscriptions for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// Emit delivers ev to every subscription of ev.Kind() registered at the time
// of the call, in registration order. The first handler error (or recovered
// panic) ends the pass and is returned.
func (b *Bus) Emit(ev Event) error {
	if ev == nil {
		return errNilEvent
	}

	b.mu.Lock()
	snapshot := b.subs[ev.Kind()]
	b.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		if err := sub.dispatch(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscription) dispatch(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, ev.Kind(), r)
		}
	}()
	return s.handler(ev)
}

// On subscribes a handler typed to a concrete payload. Events of the kind
// whose dynamic type is not T are ignored.
func On[T Event](b *Bus, kind Kind, fn func(T) error) *Subscription {
	return b.Subscribe(kind, func(ev Event) error {
		payload, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(payload)
	})
}

// Package broadcast implements a single-producer, multi-consumer
// latest-value stream.
//
// The Provider keeps only the current value. Publish overwrites it and then
// triggers every live subscriber; a subscriber wakes, reads Current and
// yields it. A consumer slower than the publisher therefore skips
// intermediate values but never sees a stale one:
//
//	Publish(v1) Publish(v2) Publish(v3)
//	     │           │           │
//	     └── Trigger ┴── Trigger ┴── Trigger   (signal coalesces)
//	                                   │
//	                   consumer wakes ─┴─► Current() == v3
package broadcast

import (
	"context"
	"hubrpc/signal"
	"iter"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// SignalHandle is what a Provider notifies. Handles of comparable types
// (pointers, most structs) are subscribed at most once; a handle whose
// dynamic type cannot be compared is added on every Subscribe.
type SignalHandle interface {
	Trigger()
	Live() bool
}

// Provider holds the current published value and its subscribers.
type Provider[T any] struct {
	mu      sync.Mutex
	current T
	subs    []SignalHandle
}

// NewProvider creates a Provider whose current value is initial.
func NewProvider[T any](initial T) *Provider[T] {
	return &Provider[T]{current: initial}
}

// Publish stores v as the current value, then triggers every live
// subscriber and drops dead ones, all inside one critical section.
func (p *Provider[T]) Publish(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = v
	p.subs = slices.DeleteFunc(p.subs, func(h SignalHandle) bool {
		if !h.Live() {
			return true
		}
		h.Trigger()
		return false
	})
}

// Current returns the latest published value.
func (p *Provider[T]) Current() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe adds h unless it is already subscribed.
func (p *Provider[T]) Subscribe(h SignalHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Interface equality panics on uncomparable dynamic types. Elements of
	// another type compare unequal without inspecting values, so checking h
	// alone is enough.
	if reflect.ValueOf(h).Comparable() && slices.Contains(p.subs, h) {
		return
	}
	p.subs = append(p.subs, h)
}

// Len returns the number of subscribers, dead ones included until the next
// Publish removes them.
func (p *Provider[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Subscriber is a SignalHandle backed by a signal.Signal. One connection
// owns one Subscriber.
type Subscriber struct {
	sig    *signal.Signal
	closed atomic.Bool
}

func NewSubscriber() *Subscriber {
	return &Subscriber{sig: signal.New()}
}

func (s *Subscriber) Trigger() {
	s.sig.Set()
}

func (s *Subscriber) Live() bool {
	return !s.closed.Load()
}

// Wait blocks until the next trigger or until ctx is done.
func (s *Subscriber) Wait(ctx context.Context) error {
	return s.sig.Wait(ctx)
}

// Close marks the subscriber dead. The provider forgets it on its next Publish.
func (s *Subscriber) Close() {
	s.closed.Store(true)
}

// Stream subscribes to p and returns the sequence of values observed after
// each notification. The sequence is infinite until ctx is done or the
// consumer stops, and it can be ranged over only once.
func Stream[T any](ctx context.Context, p *Provider[T]) iter.Seq[T] {
	sub := NewSubscriber()
	p.Subscribe(sub)
	context.AfterFunc(ctx, sub.Close)

	var used atomic.Bool
	return func(yield func(T) bool) {
		if used.Swap(true) {
			return
		}
		defer sub.Close()
		for {
			if err := sub.Wait(ctx); err != nil {
				return
			}
			if !yield(p.Current()) {
				return
			}
		}
	}
}

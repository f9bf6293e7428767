// Package signal implements an asynchronous auto-reset event.
//
// A Signal is a condition flag, not a counting semaphore: Set either
// releases the oldest waiter or, when nobody is waiting, raises a single
// buffered flag that the next Wait consumes. Repeated Sets with no waiter
// coalesce into that one flag.
//
//	Set() ──► waiters empty? ──yes──► signaled = true (at most one)
//	               │
//	               no
//	               ▼
//	         release waiters[0]   (FIFO, one waiter per Set)
package signal

import (
	"container/list"
	"context"
	"sync"
)

// Signal is safe for concurrent use. The zero value is not usable; call New.
type Signal struct {
	mu       sync.Mutex
	waiters  *list.List // of chan struct{}, oldest at the front
	signaled bool
}

// New returns a Signal in the unsignaled state.
func New() *Signal {
	return &Signal{waiters: list.New()}
}

// Set releases exactly one waiter, or buffers one signal when no waiter is
// pending. It never blocks.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	s.signaled = true
}

// Wait suspends until a matching Set. A buffered signal is consumed and
// Wait returns immediately.
//
// The Signal itself has no timeout; ctx is the caller's cancellation race.
// If ctx ends first the waiter leaves the queue and ctx.Err() is returned.
// If a Set released this waiter concurrently with the cancellation, the
// release wins and Wait returns nil so the signal is not lost.
func (s *Signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.signaled {
		s.signaled = false
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-ch:
		// Set got here first and already removed us from the queue.
		return nil
	default:
	}
	s.waiters.Remove(elem)
	return ctx.Err()
}

// Waiters returns the number of goroutines currently blocked in Wait.
func (s *Signal) Waiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

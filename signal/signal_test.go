package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetBeforeWait(t *testing.T) {
	s := New()
	s.Set()

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("expect buffered signal to release Wait, got %v", err)
	}
}

// Two Sets with nobody waiting buffer a single signal, not two.
func TestSetCoalesces(t *testing.T) {
	s := New()
	s.Set()
	s.Set()

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should return immediately, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Wait should stay pending, got %v", err)
	}
	if n := s.Waiters(); n != 0 {
		t.Fatalf("cancelled waiter should leave the queue, %d left", n)
	}
}

func TestWaitersReleasedInOrder(t *testing.T) {
	s := New()
	const n = 5

	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := s.Wait(context.Background()); err != nil {
				t.Errorf("waiter %d: %v", id, err)
				return
			}
			order <- id
		}(i)
		// Make sure waiter i is queued before waiter i+1.
		waitForWaiters(t, s, i+1)
	}

	for i := 0; i < n; i++ {
		s.Set()
		select {
		case got := <-order:
			if got != i {
				t.Fatalf("expect waiter %d released, got %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was not released", i)
		}
	}
	wg.Wait()
}

func TestOneSetReleasesOneWaiter(t *testing.T) {
	s := New()
	released := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if s.Wait(context.Background()) == nil {
				released <- struct{}{}
			}
		}()
	}
	waitForWaiters(t, s, 2)

	s.Set()
	<-released
	select {
	case <-released:
		t.Fatal("a single Set released two waiters")
	case <-time.After(50 * time.Millisecond):
	}
	s.Set()
	<-released
}

func TestWaitCancelled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx) }()
	waitForWaiters(t, s, 1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}

	// The cancelled waiter must not swallow a later Set.
	s.Set()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("expect buffered signal after cancelled waiter, got %v", err)
	}
}

func waitForWaiters(t *testing.T, s *Signal, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for s.Waiters() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expect %d waiters, have %d", n, s.Waiters())
		}
		time.Sleep(time.Millisecond)
	}
}

package engine

import (
	"sync"
	"time"
)

// Scheduler defers a function call. The engine uses it to drive simulated
// fill confirmations so that tests can advance time deterministically.
type Scheduler interface {
	// AfterFunc runs fn after d elapses. The returned function cancels
	// the pending call; cancelling after the call ran is a no-op.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// WallClock is the production Scheduler backed by time.AfterFunc.
type WallClock struct{}

func (WallClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// ManualScheduler collects deferred calls and runs them only when Fire is
// called. It ignores durations entirely.
type ManualScheduler struct {
	mu      sync.Mutex
	next    int
	pending map[int]func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]func())}
}

func (s *ManualScheduler) AfterFunc(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.pending[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// Fire runs every pending call and clears the queue. Calls run outside the
// scheduler lock; their order is not guaranteed.
func (s *ManualScheduler) Fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for _, fn := range s.pending {
		fns = append(fns, fn)
	}
	s.pending = make(map[int]func())
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Pending returns the number of deferred calls not yet fired or cancelled.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

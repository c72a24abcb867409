package watching

import (
	"sync"
	"time"
)

// Signal is a scoped rendezvous point, used for Watchman request/response
// pairing and as each Watcher's notification signal. It mirrors
// context.Context's Done-channel idiom: Notify closes an internal channel so
// that any number of waiters unblock simultaneously, and Reset swaps in a
// fresh channel so the signal can be armed again.
//
// There are no ordering guarantees between multiple independent Signals.
type Signal struct {
	mu    sync.Mutex
	armed bool
	ch    chan struct{}
}

// NewSignal creates a new, unarmed Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Wait blocks until the signal is notified. Any number of goroutines may
// wait concurrently; all are released when Notify is called.
func (s *Signal) Wait() {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	<-ch
}

// WaitFor blocks until the signal is notified or the timeout elapses,
// reporting which occurred.
func (s *Signal) WaitFor(timeout time.Duration) (notified bool) {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Notify wakes all current and future waiters. The signal remains armed
// (future Wait/WaitFor calls return immediately) until Reset is called.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		s.armed = true
		close(s.ch)
	}
}

// Reset clears the armed state, so that subsequent waiters block until the
// next Notify.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		s.armed = false
		s.ch = make(chan struct{})
	}
}

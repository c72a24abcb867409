package watching

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer()
	defer d.Stop()

	var fired int32
	d.Register(func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 10; i++ {
		d.Trigger()
	}

	time.Sleep(DebounceWindow + 200*time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one firing for a burst of triggers, got %d", got)
	}
}

func TestDebouncerUnregisterStopsFutureFirings(t *testing.T) {
	d := NewDebouncer()
	defer d.Stop()

	var fired int32
	id := d.Register(func() { atomic.AddInt32(&fired, 1) })
	d.Unregister(id)

	d.Trigger()
	time.Sleep(DebounceWindow + 200*time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("unregistered callback should not fire, got %d calls", got)
	}
}

func TestDebouncerMultipleCallbacksAllFire(t *testing.T) {
	d := NewDebouncer()
	defer d.Stop()

	var firstFired, secondFired int32
	d.Register(func() { atomic.AddInt32(&firstFired, 1) })
	d.Register(func() { atomic.AddInt32(&secondFired, 1) })

	d.Trigger()
	time.Sleep(DebounceWindow + 200*time.Millisecond)

	if atomic.LoadInt32(&firstFired) != 1 || atomic.LoadInt32(&secondFired) != 1 {
		t.Fatal("expected both registered callbacks to fire exactly once")
	}
}

func TestSharedDebouncerReturnsSingleton(t *testing.T) {
	if SharedDebouncer() != SharedDebouncer() {
		t.Fatal("SharedDebouncer should return the same instance on every call")
	}
}

package watching

import (
	"sync"
	"time"

	"github.com/fstree/fswatch/pkg/timeutil"
)

// DebounceWindow is the fixed coalescing window used by every Debouncer.
// Per the design, this is not configurable in the core; it only exists as a
// named constant so tests can reason about it.
const DebounceWindow = 500 * time.Millisecond

// debounceCallback is a registered callback along with the id used to
// unregister it.
type debounceCallback struct {
	id int
	fn func()
}

// Debouncer is a single-threaded timer that batches Trigger calls from any
// number of watchers into at most one callback invocation per
// DebounceWindow. Trigger is idempotent within a window: the first call
// arms the timer, and further calls before it fires are absorbed.
//
// Callbacks run on the debouncer's own goroutine, in registration order, and
// must not block - they should queue work elsewhere if they have more to
// do.
type Debouncer struct {
	mu        sync.Mutex
	callbacks []debounceCallback
	nextID    int

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewDebouncer creates and starts a new Debouncer.
func NewDebouncer() *Debouncer {
	d := &Debouncer{
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Register adds a callback to be invoked on every debounce firing and
// returns an id that can be passed to Unregister.
func (d *Debouncer) Register(fn func()) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.callbacks = append(d.callbacks, debounceCallback{id: id, fn: fn})
	return id
}

// Unregister removes a previously registered callback. It is a no-op if the
// id is not currently registered.
func (d *Debouncer) Unregister(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cb := range d.callbacks {
		if cb.id == id {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// Trigger arms the debounce window if it is not already armed. It never
// blocks.
func (d *Debouncer) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates the debouncer's goroutine. Pending triggers that have not
// yet fired are discarded.
func (d *Debouncer) Stop() {
	close(d.stop)
	<-d.done
}

// run is the debouncer's single goroutine: it owns the timer and is the
// only goroutine that ever invokes callbacks.
func (d *Debouncer) run() {
	defer close(d.done)

	timer := time.NewTimer(0)
	timeutil.StopAndDrainTimer(timer)

	for {
		select {
		case <-d.stop:
			timer.Stop()
			return
		case <-d.trigger:
			timer.Reset(DebounceWindow)
		absorb:
			for {
				select {
				case <-d.stop:
					timeutil.StopAndDrainTimer(timer)
					return
				case <-d.trigger:
					// Additional triggers within the window are absorbed;
					// the window is measured from the first trigger, so the
					// timer is not reset here.
				case <-timer.C:
					break absorb
				}
			}
			d.fire()
		}
	}
}

// fire invokes every registered callback, in registration order.
func (d *Debouncer) fire() {
	d.mu.Lock()
	callbacks := make([]func(), 0, len(d.callbacks))
	for _, cb := range d.callbacks {
		callbacks = append(callbacks, cb.fn)
	}
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// sharedDebouncer is the process-wide default Debouncer used by watchers
// that don't need their own dedicated timer. Watchers retain a strong
// reference to it rather than a weak one (see dirtree_cache.go for the
// rationale, which applies equally here), so it lives for the life of the
// process once first acquired.
var (
	sharedDebouncerOnce sync.Once
	sharedDebouncerInst *Debouncer
)

// SharedDebouncer returns the process-wide default Debouncer, creating it on
// first use.
func SharedDebouncer() *Debouncer {
	sharedDebouncerOnce.Do(func() {
		sharedDebouncerInst = NewDebouncer()
	})
	return sharedDebouncerInst
}

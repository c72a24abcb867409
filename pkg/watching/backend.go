package watching

import (
	"sync"

	"github.com/fstree/fswatch/pkg/logging"
)

// Backend kind identifiers, used both as map keys in the shared registry and
// as the string form of the "backend" option accepted by the public API.
const (
	BackendFSEvents   = "fs-events"
	BackendInotify    = "inotify"
	BackendWatchman   = "watchman"
	BackendWindows    = "windows"
	BackendBruteForce = "brute-force"
	BackendDefault    = "default"
)

// Backend is the capability trait implemented by each platform-specific
// event source. Every public method is expected to be safe for concurrent
// use by multiple watchers.
type Backend interface {
	// Kind returns the backend's registry identifier.
	Kind() string
	// WriteSnapshot captures the current state of w.Dir into the file at
	// path, in whatever format is native to this backend.
	WriteSnapshot(w *Watcher, path string) error
	// GetEventsSince reads a previously written snapshot and returns the
	// events that have occurred in w.Dir since it was taken.
	GetEventsSince(w *Watcher, path string) ([]Event, error)
	// Watch subscribes w to live updates. It is idempotent: watching an
	// already-subscribed watcher is a no-op.
	Watch(w *Watcher) error
	// Unwatch removes w's live subscription. It is idempotent.
	Unwatch(w *Watcher) error
}

// backendFactory constructs a new backend instance, returning
// ErrUnsupportedBackend if the backend is not available in this build or
// fails its runtime availability check.
type backendFactory func(logger *logging.Logger) (Backend, error)

var backendFactories = map[string]backendFactory{
	BackendBruteForce: newBruteForceBackend,
}

// registerBackendFactory is called from platform-specific init functions to
// add a backend to the registry. It exists so that build-tagged files
// (inotify/fsevents/windows/watchman) can register themselves without
// backend.go needing platform-specific imports.
func registerBackendFactory(kind string, factory backendFactory) {
	backendFactories[kind] = factory
}

type sharedBackendEntry struct {
	backend  Backend
	refCount int
}

var backendRegistry = struct {
	mu       sync.Mutex
	backends map[string]*sharedBackendEntry
}{backends: make(map[string]*sharedBackendEntry)}

// GetSharedBackend returns the process-wide shared backend instance for the
// given kind, constructing it on first use. "default" resolves to the first
// available backend in the platform's preference order (see
// defaultBackendOrder). Every call must be balanced by exactly one call to
// ReleaseSharedBackend.
func GetSharedBackend(kind string) (Backend, error) {
	if kind == BackendDefault || kind == "" {
		return getSharedDefaultBackend()
	}
	return acquireBackend(kind)
}

// getSharedDefaultBackend tries each backend in the platform's preference
// order and returns the first that is available.
func getSharedDefaultBackend() (Backend, error) {
	var lastErr error
	for _, kind := range defaultBackendOrder() {
		b, err := acquireBackend(kind)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnsupportedBackend
	}
	return nil, lastErr
}

func acquireBackend(kind string) (Backend, error) {
	backendRegistry.mu.Lock()
	defer backendRegistry.mu.Unlock()

	if entry, ok := backendRegistry.backends[kind]; ok {
		entry.refCount++
		return entry.backend, nil
	}

	factory, ok := backendFactories[kind]
	if !ok {
		return nil, ErrUnsupportedBackend
	}

	backend, err := factory(logging.RootLogger.Sublogger("backend").Sublogger(kind))
	if err != nil {
		return nil, err
	}

	backendRegistry.backends[kind] = &sharedBackendEntry{backend: backend, refCount: 1}
	return backend, nil
}

// ReleaseSharedBackend drops a reference to the shared backend instance of
// the given kind, tearing it down (and joining its worker thread) once the
// reference count reaches zero. kind must be the concrete kind returned by
// Backend.Kind, not "default".
func ReleaseSharedBackend(kind string) {
	backendRegistry.mu.Lock()
	entry, ok := backendRegistry.backends[kind]
	if !ok {
		backendRegistry.mu.Unlock()
		return
	}
	entry.refCount--
	shouldShutdown := entry.refCount <= 0
	if shouldShutdown {
		delete(backendRegistry.backends, kind)
	}
	backendRegistry.mu.Unlock()

	if shouldShutdown {
		if shutdownable, ok := entry.backend.(interface{ shutdown() }); ok {
			shutdownable.shutdown()
		}
	}
}

// subscriptionSet is the common "set of watchers currently subscribed"
// bookkeeping shared by every backend implementation, encapsulating the
// insert/idempotent-no-op/error-unwinds-to-Destroy contract from the
// design's description of the abstract Backend.watch/unwatch.
type subscriptionSet struct {
	mu      sync.Mutex
	members map[*Watcher]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{members: make(map[*Watcher]struct{})}
}

// watch inserts w and calls subscribeFn if it was newly inserted. If
// subscribeFn fails, w is destroyed and the error is returned; w is not
// retained in the set.
func (s *subscriptionSet) watch(w *Watcher, subscribeFn func(*Watcher) error) error {
	s.mu.Lock()
	if _, ok := s.members[w]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := subscribeFn(w); err != nil {
		w.Destroy()
		return err
	}

	s.mu.Lock()
	s.members[w] = struct{}{}
	s.mu.Unlock()
	return nil
}

// unwatch removes w and calls unsubscribeFn if it was present. It reports
// whether the set is now empty.
func (s *subscriptionSet) unwatch(w *Watcher, unsubscribeFn func(*Watcher) error) (empty bool, err error) {
	s.mu.Lock()
	_, present := s.members[w]
	if present {
		delete(s.members, w)
	}
	empty = len(s.members) == 0
	s.mu.Unlock()

	if !present {
		return empty, nil
	}
	return empty, unsubscribeFn(w)
}

// handleWatcherError delivers err to w via NotifyError and removes it from
// the subscription set, matching the abstract Backend's
// handle_watcher_error contract for recoverable per-watcher errors raised
// from a backend's worker thread.
func (s *subscriptionSet) handleWatcherError(w *Watcher, err error) {
	s.mu.Lock()
	delete(s.members, w)
	s.mu.Unlock()
	w.NotifyError(err)
}

// all returns a snapshot of the currently subscribed watchers, used when a
// backend is shutting down and must unwatch everything.
func (s *subscriptionSet) all() []*Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Watcher, 0, len(s.members))
	for w := range s.members {
		result = append(result, w)
	}
	return result
}

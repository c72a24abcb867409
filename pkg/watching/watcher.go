package watching

import (
	"sort"
	"strings"
	"sync"
)

// Callback is the function type invoked when a Watcher's debounced batch of
// events is ready. err carries any error attached via NotifyError since the
// last invocation; events is the coalesced batch. events is empty only when
// an error is delivered with no pending changes; when there is no error and
// every pending change cancelled out, the callback is not invoked.
type Callback func(err error, events []Event)

// CallbackHandle identifies a registered Callback for later removal via
// Watcher.Unwatch.
type CallbackHandle int

// Watcher is one logical subscription: a directory, its ignore sets, and
// the set of callbacks currently registered to receive its coalesced event
// batches. Identity is structural - (dir, ignorePaths, ignoreGlobs) - and
// instances are shared process-wide via GetSharedWatcher.
type Watcher struct {
	// Dir is the absolute root directory being watched.
	Dir string
	// IgnorePaths is the set of absolute path prefixes to ignore.
	IgnorePaths []string
	// IgnoreGlobExpressions is the set of raw regular expressions used to
	// build IgnoreGlobs; retained for the structural identity key.
	IgnoreGlobExpressions []string
	// IgnoreGlobs is the compiled form of IgnoreGlobExpressions.
	IgnoreGlobs []*Matcher

	// Events is the per-watcher coalesced event buffer.
	Events *EventList

	// Tree is this watcher's shared DirTree handle, acquired from the
	// process-wide cache.
	Tree *DirTree

	// State is an opaque pointer owned by whichever backend currently holds
	// this watcher (e.g. inotify watch descriptors, a Windows directory
	// handle). The watching package never interprets it.
	State any

	mu            sync.Mutex
	callbacks     map[CallbackHandle]Callback
	nextHandle    CallbackHandle
	pendingError  error
	debouncer     *Debouncer
	debounceRegID int
	debounceRef   int
	signal        *Signal
}

// newWatcher constructs a watcher for the given identity. It does not
// register it in the shared registry; callers should use GetSharedWatcher.
func newWatcher(dir string, ignorePaths, ignoreGlobExpressions []string, ignoreGlobs []*Matcher) *Watcher {
	return &Watcher{
		Dir:                   dir,
		IgnorePaths:           ignorePaths,
		IgnoreGlobExpressions: ignoreGlobExpressions,
		IgnoreGlobs:           ignoreGlobs,
		Events:                NewEventList(),
		Tree:                  acquireDirTree(dir),
		callbacks:             make(map[CallbackHandle]Callback),
		debouncer:             SharedDebouncer(),
		signal:                NewSignal(),
	}
}

// Watch registers callback. It returns the handle used to unregister it,
// and whether the callback set transitioned from empty to non-empty - the
// backend uses this to decide whether to subscribe with the OS.
func (w *Watcher) Watch(callback Callback) (CallbackHandle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	becameNonEmpty := len(w.callbacks) == 0
	handle := w.nextHandle
	w.nextHandle++
	w.callbacks[handle] = callback

	if becameNonEmpty {
		w.debounceRegID = w.debouncer.Register(w.deliver)
	}
	w.debounceRef++

	return handle, becameNonEmpty
}

// Unwatch removes a callback. It returns whether the callback set became
// empty as a result - the backend uses this to decide whether to
// unsubscribe with the OS. Calling Unwatch more than once for the same
// handle is a no-op.
func (w *Watcher) Unwatch(handle CallbackHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.callbacks[handle]; !ok {
		return false
	}
	delete(w.callbacks, handle)
	w.debounceRef--

	becameEmpty := len(w.callbacks) == 0
	if becameEmpty && w.debounceRef <= 0 {
		w.debouncer.Unregister(w.debounceRegID)
	}
	return becameEmpty
}

// Notify is called by a backend after appending to Events. It sets the
// watcher's signal, waking any goroutine blocked in Wait, and arms the
// debouncer so registered callbacks eventually receive the coalesced batch.
func (w *Watcher) Notify() {
	w.signal.Notify()
	w.debouncer.Trigger()
}

// Wait blocks until Notify has been called since the last ResetSignal; if
// the signal is already set, it returns at once. No backend calls it.
func (w *Watcher) Wait() {
	w.signal.Wait()
}

// ResetSignal clears the watcher's notification signal so a subsequent
// Wait blocks until the next Notify.
func (w *Watcher) ResetSignal() {
	w.signal.Reset()
}

// NotifyError attaches err to the next callback invocation.
func (w *Watcher) NotifyError(err error) {
	w.mu.Lock()
	w.pendingError = err
	w.mu.Unlock()
	w.debouncer.Trigger()
}

// deliver is invoked on the debouncer's goroutine. It extracts the pending
// events and error and invokes every registered callback, serialized one
// watcher at a time (the debouncer itself serializes across watchers,
// since all watchers sharing it fire on the same goroutine).
func (w *Watcher) deliver() {
	w.mu.Lock()
	err := w.pendingError
	w.pendingError = nil
	callbacks := make([]Callback, 0, len(w.callbacks))
	for _, cb := range w.callbacks {
		callbacks = append(callbacks, cb)
	}
	w.mu.Unlock()

	if len(callbacks) == 0 {
		// No one to deliver to; still drain the event list so it doesn't
		// grow unbounded while unsubscribed callbacks are pending removal.
		w.Events.Events()
		return
	}

	events := w.Events.Events()
	if err == nil && len(events) == 0 {
		return
	}
	for _, cb := range callbacks {
		cb(err, events)
	}
}

// IsIgnored reports whether path should be excluded from event delivery:
// either it is equal to or a descendant of an entry in IgnorePaths, or it
// fully matches an entry in IgnoreGlobs.
func (w *Watcher) IsIgnored(path string) bool {
	for _, prefix := range w.IgnorePaths {
		if isSelfOrDescendant(path, prefix) {
			return true
		}
	}
	for _, m := range w.IgnoreGlobs {
		if m.Matches(path) {
			return true
		}
	}
	return false
}

// isSelfOrDescendant is a package-local copy of the filesystem package's
// prefix check, used on the event-filtering path.
func isSelfOrDescendant(path, root string) bool {
	if path == root {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	return strings.HasPrefix(path[len(root):], dirSeparator)
}

// Destroy forcibly clears all callbacks, used when an asynchronous
// subscribe failure means the watcher can never deliver events.
func (w *Watcher) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.callbacks) > 0 {
		w.debouncer.Unregister(w.debounceRegID)
	}
	w.callbacks = make(map[CallbackHandle]Callback)
	w.debounceRef = 0
}

// release drops this watcher's reference to its shared DirTree. It must be
// called exactly once, when the watcher itself is being torn down (i.e.
// removed from the shared watcher registry), not on every Unwatch.
func (w *Watcher) release() {
	releaseDirTree(w.Dir)
}

// watcherKey is the structural identity used by the shared watcher
// registry.
func watcherKey(dir string, ignorePaths, ignoreGlobExpressions []string) string {
	ip := append([]string(nil), ignorePaths...)
	ig := append([]string(nil), ignoreGlobExpressions...)
	sort.Strings(ip)
	sort.Strings(ig)
	return dir + "\x00" + strings.Join(ip, "\x00") + "\x00" + strings.Join(ig, "\x00")
}

var watcherRegistry = struct {
	mu       sync.Mutex
	watchers map[string]*sharedWatcherEntry
}{watchers: make(map[string]*sharedWatcherEntry)}

type sharedWatcherEntry struct {
	watcher  *Watcher
	refCount int
}

// GetSharedWatcher returns the process-wide unique watcher for the given
// (dir, ignorePaths, ignoreGlobs) tuple, creating it if necessary. Every
// call must be balanced by exactly one call to ReleaseSharedWatcher.
func GetSharedWatcher(dir string, ignorePaths, ignoreGlobExpressions []string) (*Watcher, error) {
	matchers, err := compileMatchers(ignoreGlobExpressions)
	if err != nil {
		return nil, err
	}

	key := watcherKey(dir, ignorePaths, ignoreGlobExpressions)

	watcherRegistry.mu.Lock()
	defer watcherRegistry.mu.Unlock()

	entry, ok := watcherRegistry.watchers[key]
	if !ok {
		entry = &sharedWatcherEntry{
			watcher: newWatcher(dir, ignorePaths, ignoreGlobExpressions, matchers),
		}
		watcherRegistry.watchers[key] = entry
	}
	entry.refCount++
	return entry.watcher, nil
}

// ReleaseSharedWatcher drops a reference to the shared watcher for the
// given identity, evicting and releasing its DirTree reference once the
// count reaches zero. The caller must have already unwatched any callbacks
// it registered.
func ReleaseSharedWatcher(dir string, ignorePaths, ignoreGlobExpressions []string) {
	key := watcherKey(dir, ignorePaths, ignoreGlobExpressions)

	watcherRegistry.mu.Lock()
	defer watcherRegistry.mu.Unlock()

	entry, ok := watcherRegistry.watchers[key]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(watcherRegistry.watchers, key)
		entry.watcher.release()
	}
}

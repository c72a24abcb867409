package watching

import "sync"

// EventList is a per-watcher buffer of pending events, keyed by path, with
// the coalescing rules of Create, Update, Remove and Rename applied at
// write time. It is the single source of truth for how bursts of raw OS
// events collapse into the batch eventually delivered to subscribers.
type EventList struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewEventList creates an empty EventList.
func NewEventList() *EventList {
	return &EventList{events: make(map[string]*Event)}
}

// entry returns the event for path, creating an empty one if absent.
// Must be called with the lock held.
func (l *EventList) entry(path string) *Event {
	if e, ok := l.events[path]; ok {
		return e
	}
	e := &Event{Path: path}
	l.events[path] = e
	return e
}

// updateIdentity overwrites kind/ino/fileId on e with the supplied values,
// but only when the new value is non-sentinel, per the coalescing contract.
func updateIdentity(e *Event, kind Kind, ino uint64, fileID string) {
	if kind != KindUnknown {
		e.Kind = kind
	}
	if ino != FakeIno {
		e.Ino = ino
	}
	if fileID != FakeFileID {
		e.FileID = fileID
	}
}

// Create records that path was created.
func (l *EventList) Create(path string, kind Kind, ino uint64, fileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, existed := l.events[path]
	if !existed {
		e = &Event{Path: path, isCreated: true}
		l.events[path] = e
	} else if e.isDeleted {
		// delete followed by create within the window collapses to a plain
		// update - the path never actually disappeared from the caller's
		// perspective.
		e.isDeleted = false
	} else {
		e.isCreated = true
	}
	updateIdentity(e, kind, ino, fileID)
}

// Update records that path was modified.
func (l *EventList) Update(path string, kind Kind, ino uint64, fileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(path)
	updateIdentity(e, kind, ino, fileID)
}

// Remove records that path was removed. If the path had a create pending
// with no other changes, the create and remove cancel out and no event
// survives for that path.
func (l *EventList) Remove(path string, kind Kind, ino uint64, fileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, existed := l.events[path]
	if existed && e.isCreated && e.PathFrom == "" {
		delete(l.events, path)
		return
	}
	if !existed {
		e = &Event{Path: path}
		l.events[path] = e
	}
	e.isDeleted = true
	updateIdentity(e, kind, ino, fileID)
}

// Rename records that from was renamed to to. It inserts one entry, keyed
// by to, carrying both PathFrom and PathTo; GetChanges records a Create for
// the old path beside it, giving the create(old)+rename(old->new) pairing
// that identifier-capable backends emit.
func (l *EventList) Rename(from, to string, kind Kind, ino uint64, fileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Event{Path: to, PathFrom: from, PathTo: to}
	updateIdentity(e, kind, ino, fileID)
	l.events[to] = e
}

// Len reports the number of distinct paths currently pending.
func (l *EventList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Events returns a copy of the pending events with create+delete no-ops
// filtered out, and clears the list.
func (l *EventList) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return nil
	}

	result := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if e.suppressed() {
			continue
		}
		result = append(result, *e)
	}
	l.events = make(map[string]*Event)
	return result
}

package watching

import "fmt"

// Kind identifies the type of filesystem object that an entry or event
// refers to.
type Kind uint8

const (
	// KindUnknown indicates that the kind of the underlying object could not
	// be determined (or was not recorded, e.g. in older snapshot formats).
	KindUnknown Kind = iota
	// KindFile indicates a regular file.
	KindFile
	// KindDirectory indicates a directory.
	KindDirectory
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

const (
	// FakeIno is the sentinel inode value used when no inode is available.
	FakeIno uint64 = 0
	// FakeFileID is the sentinel file identifier used when none is
	// available.
	FakeFileID = ""
)

// EventType classifies the externally-visible kind of change that an Event
// represents. It is derived from the internal isCreated/isDeleted/rename
// fields rather than stored directly.
type EventType uint8

const (
	// EventTypeUpdate indicates that an existing object was modified.
	EventTypeUpdate EventType = iota
	// EventTypeCreate indicates that an object was created.
	EventTypeCreate
	// EventTypeDelete indicates that an object was removed.
	EventTypeDelete
	// EventTypeRename indicates that an object was renamed or moved; both
	// PathFrom and PathTo are populated.
	EventTypeRename
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventTypeCreate:
		return "create"
	case EventTypeDelete:
		return "delete"
	case EventTypeRename:
		return "rename"
	default:
		return "update"
	}
}

// Event describes a single coalesced filesystem change delivered to a
// subscriber or returned from GetEventsSince.
//
// The internal isCreated/isDeleted fields are not exported: Type is computed
// from them (and from PathFrom/PathTo) at the point the event is read out of
// an EventList, per the coalescing contract in EventList.
type Event struct {
	// Path is the absolute path affected by the event. For a rename, Path is
	// equal to PathTo.
	Path string
	// Kind is the kind of object affected, when known.
	Kind Kind
	// Ino is the POSIX inode number of the object, if available.
	Ino uint64
	// FileID is the stable per-volume identifier of the object, if
	// available.
	FileID string
	// PathFrom is the prior path of a renamed object. Empty unless Type is
	// EventTypeRename.
	PathFrom string
	// PathTo is the new path of a renamed object. Empty unless Type is
	// EventTypeRename.
	PathTo string

	// isCreated records whether a create was coalesced into this event.
	isCreated bool
	// isDeleted records whether a delete was coalesced into this event.
	isDeleted bool
}

// Type computes the externally-visible event type.
func (e *Event) Type() EventType {
	if e.PathFrom != "" && e.PathTo != "" {
		return EventTypeRename
	} else if e.isCreated {
		return EventTypeCreate
	} else if e.isDeleted {
		return EventTypeDelete
	}
	return EventTypeUpdate
}

// suppressed reports whether the event has coalesced to a no-op (created and
// then deleted within the same batch) and should not be delivered.
func (e *Event) suppressed() bool {
	return e.isCreated && e.isDeleted
}

// String implements fmt.Stringer for debugging and CLI output.
func (e *Event) String() string {
	switch e.Type() {
	case EventTypeRename:
		return fmt.Sprintf("rename %s -> %s", e.PathFrom, e.PathTo)
	default:
		return fmt.Sprintf("%s %s (%s)", e.Type(), e.Path, e.Kind)
	}
}

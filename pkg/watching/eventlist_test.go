package watching

import "testing"

func eventByPath(events []Event, path string) *Event {
	for i := range events {
		if events[i].Path == path {
			return &events[i]
		}
	}
	return nil
}

func TestEventListCreateThenDeleteSuppressed(t *testing.T) {
	l := NewEventList()
	l.Create("/a", KindFile, 1, "id")
	l.Remove("/a", KindFile, 1, "id")

	if len(l.Events()) != 0 {
		t.Fatal("create immediately followed by delete should produce no event")
	}
}

func TestEventListDeleteThenCreateCollapsesToUpdate(t *testing.T) {
	l := NewEventList()
	l.Remove("/a", KindFile, 1, "id")
	l.Create("/a", KindFile, 1, "id")

	events := l.Events()
	e := eventByPath(events, "/a")
	if e == nil {
		t.Fatal("expected an event for /a")
	}
	if e.Type() != EventTypeUpdate {
		t.Error("delete then create within the window should collapse to update, got", e.Type())
	}
}

func TestEventListUpdateOnlyPreservesIdentityAcrossCalls(t *testing.T) {
	l := NewEventList()
	l.Create("/a", KindFile, 1, "id-1")
	l.Update("/a", KindUnknown, FakeIno, FakeFileID)

	events := l.Events()
	e := eventByPath(events, "/a")
	if e == nil {
		t.Fatal("expected an event for /a")
	}
	if e.Ino != 1 || e.FileID != "id-1" {
		t.Error("sentinel update values should not clobber prior identity:", e.Ino, e.FileID)
	}
	if e.Type() != EventTypeCreate {
		t.Error("create followed by a sentinel update should remain a create, got", e.Type())
	}
}

func TestEventListRenameProducesLinkedEvent(t *testing.T) {
	l := NewEventList()
	l.Rename("/old", "/new", KindFile, 5, "id-5")

	events := l.Events()
	if len(events) != 1 {
		t.Fatalf("expected a single rename event, got %d", len(events))
	}
	if events[0].Type() != EventTypeRename {
		t.Error("expected rename type, got", events[0].Type())
	}
	if events[0].PathFrom != "/old" || events[0].PathTo != "/new" || events[0].Path != "/new" {
		t.Error("rename event has unexpected path fields:", events[0])
	}
}

func TestEventListEventsDrainsList(t *testing.T) {
	l := NewEventList()
	l.Create("/a", KindFile, 1, "id")

	if len(l.Events()) != 1 {
		t.Fatal("expected one event on first call")
	}
	if l.Len() != 0 {
		t.Fatal("Events should clear the list")
	}
	if events := l.Events(); events != nil {
		t.Error("second call on a drained list should return nil, got", events)
	}
}

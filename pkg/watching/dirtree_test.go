package watching

import (
	"bytes"
	"testing"
)

func TestDirTreeAddIdempotent(t *testing.T) {
	tree := NewDirTree("/root")
	first := tree.Add("/root/a", KindFile, 100, 1, "id-a")
	second := tree.Add("/root/a", KindFile, 200, 2, "id-b")

	if first != second {
		t.Fatal("Add returned a different entry for an already-present path")
	}
	if second.Mtime != 100 {
		t.Error("Add overwrote an existing entry's mtime:", second.Mtime)
	}
}

func TestDirTreeUpdatePreservesIdentifierOnSentinel(t *testing.T) {
	tree := NewDirTree("/root")
	tree.Add("/root/a", KindFile, 100, 7, "id-a")

	updated := tree.Update("/root/a", 200, FakeIno, FakeFileID)
	if updated == nil {
		t.Fatal("Update returned nil for a present entry")
	}
	if updated.Mtime != 200 {
		t.Error("mtime not updated:", updated.Mtime)
	}
	if updated.Ino != 7 || updated.FileID != "id-a" {
		t.Error("Update clobbered identifiers with sentinel values:", updated.Ino, updated.FileID)
	}
}

func TestDirTreeUpdateAbsent(t *testing.T) {
	tree := NewDirTree("/root")
	if tree.Update("/root/missing", 1, 1, "x") != nil {
		t.Fatal("Update on an absent path should return nil")
	}
}

func TestDirTreeRemoveRecursive(t *testing.T) {
	tree := NewDirTree("/root")
	tree.Add("/root/dir", KindDirectory, 1, 1, "dir")
	tree.Add("/root/dir/child", KindFile, 1, 2, "child")
	tree.Add("/root/other", KindFile, 1, 3, "other")

	tree.Remove("/root/dir", true)

	if tree.Find("/root/dir") != nil {
		t.Error("directory entry survived recursive remove")
	}
	if tree.Find("/root/dir/child") != nil {
		t.Error("child entry survived recursive remove")
	}
	if tree.Find("/root/other") == nil {
		t.Error("unrelated entry was removed")
	}
}

func TestDirTreeRemoveNonRecursiveLeavesChildren(t *testing.T) {
	tree := NewDirTree("/root")
	tree.Add("/root/dir", KindDirectory, 1, 1, "dir")
	tree.Add("/root/dir/child", KindFile, 1, 2, "child")

	tree.Remove("/root/dir", false)

	if tree.Find("/root/dir/child") == nil {
		t.Error("non-recursive remove deleted a child entry")
	}
}

func TestDirTreeFindByInoAndFileID(t *testing.T) {
	tree := NewDirTree("/root")
	tree.Add("/root/a", KindFile, 1, 42, "file-id-42")

	if e := tree.FindByIno(42); e == nil || e.Path != "/root/a" {
		t.Error("FindByIno did not locate the entry")
	}
	if e := tree.FindByFileID("file-id-42"); e == nil || e.Path != "/root/a" {
		t.Error("FindByFileID did not locate the entry")
	}
	if tree.FindByIno(FakeIno) != nil {
		t.Error("FindByIno should never match the sentinel")
	}
	if tree.FindByFileID(FakeFileID) != nil {
		t.Error("FindByFileID should never match the sentinel")
	}
}

func TestDirTreeWriteReadRoundTrip(t *testing.T) {
	tree := NewDirTree("/root")
	tree.Add("/root/a b", KindFile, 1234, 1, "id-1")
	tree.Add("/root/dir", KindDirectory, 5678, 2, "")

	var buf bytes.Buffer
	if err := tree.Write(&buf); err != nil {
		t.Fatal("Write failed:", err)
	}

	restored, err := ReadDirTree("/root", &buf)
	if err != nil {
		t.Fatal("ReadDirTree failed:", err)
	}
	if restored.Len() != 2 {
		t.Fatal("restored tree has wrong entry count:", restored.Len())
	}

	a := restored.Find("/root/a b")
	if a == nil {
		t.Fatal("path containing a space did not round-trip")
	}
	if a.Mtime != 1234 || a.Kind != KindFile || a.Ino != 1 || a.FileID != "id-1" {
		t.Error("entry fields did not round-trip:", *a)
	}

	dir := restored.Find("/root/dir")
	if dir == nil {
		t.Fatal("directory entry did not round-trip")
	}
	if dir.FileID != "" {
		t.Error("empty file ID should round-trip as empty, got:", dir.FileID)
	}
}

func TestDirTreeGetChangesByPath(t *testing.T) {
	previous := NewDirTree("/root")
	previous.Add("/root/removed", KindFile, 1, FakeIno, FakeFileID)
	previous.Add("/root/changed", KindFile, 1, FakeIno, FakeFileID)
	previous.Add("/root/same", KindFile, 1, FakeIno, FakeFileID)

	current := NewDirTree("/root")
	current.Add("/root/changed", KindFile, 2, FakeIno, FakeFileID)
	current.Add("/root/same", KindFile, 1, FakeIno, FakeFileID)
	current.Add("/root/created", KindFile, 1, FakeIno, FakeFileID)

	events := NewEventList()
	current.GetChanges(previous, events)

	byPath := make(map[string]EventType)
	for _, e := range events.Events() {
		byPath[e.Path] = e.Type()
	}

	if byPath["/root/removed"] != EventTypeDelete {
		t.Error("expected delete for /root/removed, got", byPath["/root/removed"])
	}
	if byPath["/root/changed"] != EventTypeUpdate {
		t.Error("expected update for /root/changed, got", byPath["/root/changed"])
	}
	if byPath["/root/created"] != EventTypeCreate {
		t.Error("expected create for /root/created, got", byPath["/root/created"])
	}
	if _, ok := byPath["/root/same"]; ok {
		t.Error("unchanged entry should not produce an event")
	}
}

func TestDirTreeGetChangesByIdentityDetectsRename(t *testing.T) {
	previous := NewDirTree("/root")
	previous.Add("/root/old-name", KindFile, 1, 99, "stable-id")

	current := NewDirTree("/root")
	current.Add("/root/new-name", KindFile, 1, 99, "stable-id")

	events := NewEventList()
	current.GetChanges(previous, events)

	result := events.Events()
	if len(result) != 2 {
		t.Fatalf("expected exactly two events (create+rename of the file), got %d: %+v", len(result), result)
	}

	created := eventByPath(result, "/root/old-name")
	if created == nil || created.Type() != EventTypeCreate {
		t.Error("expected a create event for /root/old-name, got", created)
	}

	renamed := eventByPath(result, "/root/new-name")
	if renamed == nil || renamed.Type() != EventTypeRename {
		t.Fatal("expected a rename event for /root/new-name, got", renamed)
	}
	if renamed.PathFrom != "/root/old-name" || renamed.PathTo != "/root/new-name" {
		t.Error("rename event has wrong from/to paths:", renamed.PathFrom, renamed.PathTo)
	}
}

func TestDirTreeGetChangesByIdentityRenameRekeysDescendants(t *testing.T) {
	previous := NewDirTree("/root")
	previous.Add("/root/dir", KindDirectory, 1, 10, "dir-id")
	previous.Add("/root/dir/file", KindFile, 1, 20, "file-id")

	current := NewDirTree("/root")
	current.Add("/root/dir2", KindDirectory, 1, 10, "dir-id")
	current.Add("/root/dir2/file", KindFile, 1, 20, "file-id")

	events := NewEventList()
	current.GetChanges(previous, events)

	result := events.Events()
	if len(result) != 2 {
		t.Fatalf("expected exactly two events (create+rename of the directory), got %d: %+v", len(result), result)
	}

	created := eventByPath(result, "/root/dir")
	if created == nil || created.Type() != EventTypeCreate {
		t.Error("expected a create event for /root/dir, got", created)
	}

	renamed := eventByPath(result, "/root/dir2")
	if renamed == nil || renamed.Type() != EventTypeRename {
		t.Fatal("expected a rename event for /root/dir2, got", renamed)
	}
	if renamed.PathFrom != "/root/dir" || renamed.PathTo != "/root/dir2" {
		t.Error("rename event has wrong from/to paths:", renamed.PathFrom, renamed.PathTo)
	}

	if e := eventByPath(result, "/root/dir/file"); e != nil {
		t.Error("descendant should not produce its own create event")
	}
	if e := eventByPath(result, "/root/dir2/file"); e != nil {
		t.Error("descendant should keep its identity silently, not produce its own rename/create event")
	}
}

func TestDirTreeGetChangesContentHashSuppressesUpdate(t *testing.T) {
	previous := NewDirTree("/root")
	previous.Add("/root/a", KindFile, 1, FakeIno, FakeFileID)
	previous.SetContentHash("/root/a", 0xdead)

	current := NewDirTree("/root")
	current.Add("/root/a", KindFile, 2, FakeIno, FakeFileID)
	current.SetContentHash("/root/a", 0xdead)

	events := NewEventList()
	current.GetChanges(previous, events)

	if len(events.Events()) != 0 {
		t.Error("matching content hashes should suppress the mtime-only update")
	}
}

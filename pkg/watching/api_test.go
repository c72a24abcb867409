package watching

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteSnapshotAndGetEventsSinceBruteForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshotPath := filepath.Join(t.TempDir(), "snapshot")
	opts := Options{Backend: BackendBruteForce}

	if err := WriteSnapshot(dir, snapshotPath, opts); err != nil {
		t.Fatal("WriteSnapshot failed:", err)
	}

	// Ensure the new file's mtime is distinguishable from the snapshot.
	time.Sleep(10 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "existing.txt")); err != nil {
		t.Fatal(err)
	}

	events, err := GetEventsSince(dir, snapshotPath, opts)
	if err != nil {
		t.Fatal("GetEventsSince failed:", err)
	}

	var sawCreate, sawDelete bool
	for _, e := range events {
		switch {
		case e.Path == filepath.Join(dir, "new.txt") && e.Type() == EventTypeCreate:
			sawCreate = true
		case e.Path == filepath.Join(dir, "existing.txt") && e.Type() == EventTypeDelete:
			sawDelete = true
		}
	}
	if !sawCreate {
		t.Error("expected a create event for new.txt, got", events)
	}
	if !sawDelete {
		t.Error("expected a delete event for existing.txt, got", events)
	}
}

func TestWriteSnapshotRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := WriteSnapshot(file, filepath.Join(dir, "snapshot"), Options{Backend: BackendBruteForce})
	if err == nil {
		t.Fatal("expected an error snapshotting a non-directory")
	}
}

func TestSubscribeUnsupportedOnBruteForce(t *testing.T) {
	dir := t.TempDir()
	_, err := Subscribe(dir, func(error, []Event) {}, Options{Backend: BackendBruteForce})
	if err == nil {
		t.Fatal("expected Subscribe to fail on the brute-force backend")
	}
}

package watching

import (
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/fstree/fswatch/pkg/logging"
)

// BruteForceOptions configures the tree walk done by readTree, which the
// brute-force, inotify and Windows backends all use. readTree reads it from
// the Watcher's State field; when State holds no *BruteForceOptions, the
// zero value applies.
type BruteForceOptions struct {
	// ContentHash makes readTree record an XXH64 digest of each file's
	// contents, so that GetChanges reports no update for a file whose mtime
	// differs but whose digest is equal on both sides. It is off by default
	// because it requires reading file contents. Digests are not written to
	// snapshot files, so the tiebreak does not apply when diffing against a
	// snapshot read back from disk.
	ContentHash bool
}

// bruteForceBackend implements Backend purely via recursive tree walks; it
// does not support live subscriptions; Watch/Unwatch always fail.
type bruteForceBackend struct {
	logger *logging.Logger
}

func newBruteForceBackend(logger *logging.Logger) (Backend, error) {
	return &bruteForceBackend{logger: logger}, nil
}

func (b *bruteForceBackend) Kind() string { return BackendBruteForce }

func (b *bruteForceBackend) Watch(w *Watcher) error {
	return ErrSubscriptionUnsupported
}

func (b *bruteForceBackend) Unwatch(w *Watcher) error {
	return ErrSubscriptionUnsupported
}

// WriteSnapshot walks w.Dir and writes the resulting tree to path.
func (b *bruteForceBackend) WriteSnapshot(w *Watcher, path string) error {
	tree := NewDirTree(w.Dir)
	if err := readTree(w.Dir, w, tree); err != nil {
		return err
	}

	file, err := createSnapshotFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return tree.Write(file)
}

// GetEventsSince reads the snapshot at path, walks the live tree, and
// returns the diff between them.
func (b *bruteForceBackend) GetEventsSince(w *Watcher, path string) ([]Event, error) {
	snapshot, err := readSnapshotFile(w.Dir, path)
	if err != nil {
		return nil, err
	}

	live := NewDirTree(w.Dir)
	if err := readTree(w.Dir, w, live); err != nil {
		return nil, err
	}

	events := NewEventList()
	live.GetChanges(snapshot, events)
	return events.Events(), nil
}

// readTree performs the recursive directory walk: each directory is opened
// by its joined path string, entries matched by the watcher's ignore sets
// are skipped, and entries that are symlinks when their parent is listed
// are not followed. A directory replaced by a symlink between being listed
// and being opened is opened through that symlink; the walk does not detect
// the swap. EACCES on an individual subtree is non-fatal; any other error
// aborts the walk with a WatcherError.
func readTree(root string, w *Watcher, tree *DirTree) error {
	err := walkDir(root, w, tree, true)
	tree.IsComplete = err == nil
	return err
}

func walkDir(dir string, w *Watcher, tree *DirTree, isRoot bool) error {
	handle, err := os.Open(dir)
	if err != nil {
		if os.IsPermission(err) && !isRoot {
			return nil
		}
		return &WatcherError{Dir: w.Dir, Err: err}
	}
	defer handle.Close()

	entries, err := handle.ReadDir(-1)
	if err != nil {
		if os.IsPermission(err) && !isRoot {
			return nil
		}
		return &WatcherError{Dir: w.Dir, Err: err}
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if w != nil && w.IsIgnored(path) {
			continue
		}

		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &WatcherError{Dir: w.Dir, Err: err}
		}

		kind := KindFile
		if info.IsDir() {
			kind = KindDirectory
		}

		ino, fileID := platformIdentifiers(path, info)
		mtime := info.ModTime().UnixNano()

		tree.Add(path, kind, mtime, ino, fileID)

		if kind == KindFile && bruteForceOptionsOf(w).ContentHash {
			if hash, err := contentDigest(path); err == nil {
				tree.SetContentHash(path, hash)
			}
		}

		if kind == KindDirectory {
			if err := walkDir(path, w, tree, false); err != nil {
				return err
			}
		}
	}

	return nil
}

// bruteForceOptionsOf returns w's BruteForceOptions, or the zero value
// (content hashing disabled) if w carries no such state.
func bruteForceOptionsOf(w *Watcher) BruteForceOptions {
	if w == nil {
		return BruteForceOptions{}
	}
	if opts, ok := w.State.(*BruteForceOptions); ok && opts != nil {
		return *opts
	}
	return BruteForceOptions{}
}

// contentDigest computes an XXH64 digest of a file's contents, used as a
// tiebreak when BruteForceOptions.ContentHash is enabled and two entries
// differ only in mtime (e.g. a touch that left the contents unchanged).
func contentDigest(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	digest := xxhash.New()
	buffer := make([]byte, 64*1024)
	for {
		n, readErr := file.Read(buffer)
		if n > 0 {
			digest.Write(buffer[:n])
		}
		if readErr != nil {
			break
		}
	}
	return digest.Sum64(), nil
}

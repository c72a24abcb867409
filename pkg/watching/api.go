package watching

import (
	"fmt"
	"os"

	"github.com/fstree/fswatch/pkg/filesystem"
)

// Options configures the public operations. The zero value selects
// the platform's default backend with no ignore rules.
type Options struct {
	// Backend selects the implementation: one of the Backend* kind
	// constants, or "" / BackendDefault for the platform's preference
	// order.
	Backend string
	// IgnorePaths excludes any path equal to or strictly under one of
	// these absolute prefixes.
	IgnorePaths []string
	// IgnoreGlobs excludes any path fully matched by one of these
	// compiled regular expressions (already-compiled glob translations,
	// per the design's treatment of glob compilation as an external
	// concern).
	IgnoreGlobs []string
}

func (o Options) backendKind() string {
	if o.Backend == "" {
		return BackendDefault
	}
	return o.Backend
}

// resolveDir validates dir and canonicalizes it to an absolute path,
// consistent with every backend's assumption that Watcher.Dir is absolute.
func resolveDir(dir string) (string, error) {
	abs, err := filesystem.Normalize(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotADirectory
	}
	return abs, nil
}

// WriteSnapshot captures the current state of dir into snapshotPath, in
// whatever format is native to the selected backend.
func WriteSnapshot(dir, snapshotPath string, opts Options) error {
	dir, err := resolveDir(dir)
	if err != nil {
		return err
	}

	backend, err := GetSharedBackend(opts.backendKind())
	if err != nil {
		return err
	}
	defer ReleaseSharedBackend(backend.Kind())

	watcher, err := GetSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)
	if err != nil {
		return err
	}
	defer ReleaseSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)

	return backend.WriteSnapshot(watcher, snapshotPath)
}

// GetEventsSince reads a previously written snapshot and returns the
// events that have occurred in dir since it was taken.
func GetEventsSince(dir, snapshotPath string, opts Options) ([]Event, error) {
	dir, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}

	backend, err := GetSharedBackend(opts.backendKind())
	if err != nil {
		return nil, err
	}
	defer ReleaseSharedBackend(backend.Kind())

	watcher, err := GetSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)
	if err != nil {
		return nil, err
	}
	defer ReleaseSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)

	return backend.GetEventsSince(watcher, snapshotPath)
}

// Subscribe registers callback to receive batched, debounced events for
// dir until the returned function is called. This is the idiomatic-Go
// rendering of the abstract subscribe/unsubscribe pair: Go function
// values aren't comparable, so unsubscription is modeled as a closure
// rather than requiring callers to hand the original callback back. The
// backend is subscribed with the OS on the first caller for a given (dir,
// ignore rules) identity and unsubscribed when the last caller leaves.
func Subscribe(dir string, callback Callback, opts Options) (func() error, error) {
	dir, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}

	backend, err := GetSharedBackend(opts.backendKind())
	if err != nil {
		return nil, err
	}

	watcher, err := GetSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)
	if err != nil {
		ReleaseSharedBackend(backend.Kind())
		return nil, err
	}

	handle, becameNonEmpty := watcher.Watch(callback)
	if becameNonEmpty {
		if err := backend.Watch(watcher); err != nil {
			watcher.Unwatch(handle)
			ReleaseSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)
			ReleaseSharedBackend(backend.Kind())
			return nil, fmt.Errorf("unable to subscribe: %w", err)
		}
	}

	unsubscribe := func() error {
		becameEmpty := watcher.Unwatch(handle)
		if becameEmpty {
			if err := backend.Unwatch(watcher); err != nil {
				return err
			}
		}
		ReleaseSharedWatcher(dir, opts.IgnorePaths, opts.IgnoreGlobs)
		ReleaseSharedBackend(backend.Kind())
		return nil
	}

	return unsubscribe, nil
}

//go:build darwin && cgo

package watching

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mutagen-io/fsevents"

	"github.com/fstree/fswatch/pkg/logging"
)

func init() {
	registerBackendFactory(BackendFSEvents, newFSEventsBackend)
}

const (
	// fseventsChannelCapacity bounds the per-watcher raw event channel.
	fseventsChannelCapacity = 50

	// fseventsCoalescingPeriod is FSEvents' own internal latency window,
	// independent of and upstream from the debounce window applied to
	// every backend's output.
	fseventsCoalescingPeriod = 10 * time.Millisecond

	// fseventsFlags requests per-file events (not just per-directory),
	// root-change notification, and NoDefer so that the first event in a
	// burst is delivered immediately rather than held for the full
	// coalescing period.
	fseventsFlags = fsevents.NoDefer | fsevents.WatchRoot | fsevents.FileEvents
)

// fseventsSubscription pairs a watcher with its native stream and the
// goroutine draining it.
type fseventsSubscription struct {
	watcher *Watcher
	stream  *fsevents.EventStream
	target  string // fully symlink-resolved watch root
	done    chan struct{}
}

// fsEventsBackend implements Backend on top of the native macOS FSEvents
// API. Unlike inotify, FSEvents streams are inherently per-path, so this
// backend runs one reader goroutine per subscription rather than a single
// shared worker; each goroutine is still lightweight, blocking on its
// stream's channel.
type fsEventsBackend struct {
	logger *logging.Logger

	subscriptions *subscriptionSet

	mu   sync.Mutex
	subs map[*Watcher]*fseventsSubscription
}

func newFSEventsBackend(logger *logging.Logger) (Backend, error) {
	return &fsEventsBackend{
		logger:        logger,
		subscriptions: newSubscriptionSet(),
		subs:          make(map[*Watcher]*fseventsSubscription),
	}, nil
}

func (b *fsEventsBackend) Kind() string { return BackendFSEvents }

func (b *fsEventsBackend) Watch(w *Watcher) error {
	return b.subscriptions.watch(w, b.subscribe)
}

func (b *fsEventsBackend) Unwatch(w *Watcher) error {
	_, err := b.subscriptions.unwatch(w, b.unsubscribe)
	return err
}

// WriteSnapshot records the device's current FSEvents cursor rather than a
// tree dump: the daemon already retains enough history to replay from an
// event ID, which is cheaper than a full rescan for the common case of a
// snapshot taken shortly before the matching getEventsSince call.
func (b *fsEventsBackend) WriteSnapshot(w *Watcher, path string) error {
	device, err := fsevents.DeviceForPath(w.Dir)
	if err != nil {
		return fmt.Errorf("unable to compute device for path: %w", err)
	}
	eventID := fsevents.LatestEventID(device)

	file, err := createSnapshotFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	now := time.Now()
	_, err = fmt.Fprintf(file, "%d\n%d\n%d", eventID, now.Unix(), now.UnixNano()%int64(time.Second))
	return err
}

// GetEventsSince replays history from the recorded event ID by starting a
// fresh stream with EventID set to the cursor and collecting events until
// the daemon reports HistoryDone, matching the blocking history-replay
// behavior the design calls out for this backend.
func (b *fsEventsBackend) GetEventsSince(w *Watcher, path string) ([]Event, error) {
	clockFile, err := readSnapshotClock(path)
	if err != nil {
		return nil, err
	}

	target, err := filepath.EvalSymlinks(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve watch root: %w", err)
	}

	events := NewEventList()
	tree := NewDirTree(w.Dir)
	if err := readTree(w.Dir, w, tree); err != nil {
		return nil, err
	}

	replay := &Watcher{Dir: w.Dir, IgnorePaths: w.IgnorePaths, IgnoreGlobs: w.IgnoreGlobs, Events: events, Tree: tree}

	stream := &fsevents.EventStream{
		Events:  make(chan []fsevents.Event, fseventsChannelCapacity),
		Paths:   []string{target},
		EventID: clockFile.eventID,
		Latency: fseventsCoalescingPeriod,
		Flags:   fsevents.FileEvents | fsevents.WatchRoot,
	}
	stream.Start()
	defer stream.Stop()

	trimPrefix := target + string(filepath.Separator)
	if target == string(filepath.Separator) {
		trimPrefix = target
	}

	timeout := time.After(10 * time.Second)
	for {
		select {
		case eventSet, ok := <-stream.Events:
			if !ok {
				return events.Events(), nil
			}
			historyDone := false
			for _, event := range eventSet {
				if event.Flags&fsevents.HistoryDone != 0 {
					historyDone = true
					continue
				}
				path := event.Path
				if path == target {
					path = replay.Dir
				} else if strings.HasPrefix(path, trimPrefix) {
					path = filepath.Join(replay.Dir, path[len(trimPrefix):])
				} else {
					continue
				}
				if replay.IsIgnored(path) {
					continue
				}
				b.applyEvent(replay, path, event.Flags)
			}
			if historyDone {
				return events.Events(), nil
			}
		case <-timeout:
			return events.Events(), nil
		}
	}
}

type fseventsClock struct {
	eventID uint64
}

func readSnapshotClock(path string) (fseventsClock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fseventsClock{}, fmt.Errorf("unable to read snapshot file: %w", err)
	}
	lines := strings.SplitN(string(data), "\n", 2)
	var eventID uint64
	if len(lines) > 0 {
		fmt.Sscanf(lines[0], "%d", &eventID)
	}
	return fseventsClock{eventID: eventID}, nil
}

// subscribe builds the watcher's initial mirror tree via a full walk (the
// same approach the brute-force and inotify backends use), then starts a
// native FSEvents stream rooted at the fully symlink-resolved watch target,
// since the OS reports event paths resolved the same way.
func (b *fsEventsBackend) subscribe(w *Watcher) error {
	if err := readTree(w.Dir, w, w.Tree); err != nil {
		return err
	}

	target, err := filepath.EvalSymlinks(w.Dir)
	if err != nil {
		return fmt.Errorf("unable to resolve watch root: %w", err)
	}

	stream := &fsevents.EventStream{
		Events:  make(chan []fsevents.Event, fseventsChannelCapacity),
		Paths:   []string{target},
		Latency: fseventsCoalescingPeriod,
		Flags:   fseventsFlags,
	}
	stream.Start()

	sub := &fseventsSubscription{
		watcher: w,
		stream:  stream,
		target:  target,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[w] = sub
	b.mu.Unlock()

	go b.run(sub)

	return nil
}

func (b *fsEventsBackend) unsubscribe(w *Watcher) error {
	b.mu.Lock()
	sub, ok := b.subs[w]
	delete(b.subs, w)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	sub.stream.Stop()
	<-sub.done
	return nil
}

// run drains one watcher's native event stream until it is stopped or
// reports an unrecoverable condition, in which case the error is delivered
// to the watcher and the subscription is torn down.
func (b *fsEventsBackend) run(sub *fseventsSubscription) {
	defer close(sub.done)

	w := sub.watcher
	trimPrefix := sub.target + string(filepath.Separator)
	if sub.target == string(filepath.Separator) {
		trimPrefix = sub.target
	}

	for eventSet := range sub.stream.Events {
		touched := false
		for _, event := range eventSet {
			if event.Flags&fsevents.MustScanSubDirs != 0 {
				b.subscriptions.handleWatcherError(w, fmt.Errorf("%w: raw events coalesced, rescan required", ErrTooManyPendingPaths))
				return
			}
			if event.Flags&(fsevents.Mount|fsevents.Unmount) != 0 {
				continue
			}

			path := event.Path
			if path == sub.target {
				path = w.Dir
			} else if strings.HasPrefix(path, trimPrefix) {
				path = filepath.Join(w.Dir, path[len(trimPrefix):])
			} else {
				continue
			}

			if w.IsIgnored(path) {
				continue
			}

			b.applyEvent(w, path, event.Flags)
			touched = true
		}
		if touched {
			w.Notify()
		}
	}
}

// platformStat re-reads a changed path's metadata for mirroring; FSEvents
// callbacks only carry a path and a flag set, not attributes.
func platformStat(path string) (kind Kind, mtimeNanos int64, ino uint64, fileID string, err error) {
	info, statErr := os.Lstat(path)
	if statErr != nil {
		err = statErr
		return
	}
	if info.IsDir() {
		kind = KindDirectory
	} else {
		kind = KindFile
	}
	mtimeNanos = info.ModTime().UnixNano()
	ino, fileID = platformIdentifiers(path, info)
	return
}

// applyEvent updates w's mirror tree and EventList from one native flag
// set. FSEvents does not cleanly distinguish create/update/delete at the
// flag level the way inotify does, so the entry's current on-disk state
// (or absence) is used to classify the change, consistent with the
// generic identity-or-path diffing DirTree.GetChanges otherwise performs
// from full rescans.
func (b *fsEventsBackend) applyEvent(w *Watcher, path string, flags fsevents.EventFlags) {
	existed := w.Tree.Find(path) != nil

	kind, mtime, ino, fileID, statErr := platformStat(path)
	if statErr != nil {
		if existed {
			entry := w.Tree.Find(path)
			w.Tree.Remove(path, true)
			k := KindUnknown
			var i uint64
			f := FakeFileID
			if entry != nil {
				k, i, f = entry.Kind, entry.Ino, entry.FileID
			}
			w.Events.Remove(path, k, i, f)
		}
		return
	}

	if existed {
		w.Tree.Update(path, mtime, ino, fileID)
		w.Events.Update(path, kind, ino, fileID)
	} else {
		w.Tree.Add(path, kind, mtime, ino, fileID)
		w.Events.Create(path, kind, ino, fileID)
		if kind == KindDirectory {
			// FSEvents' FileEvents flag reports newly created descendants
			// individually, so a single walkDir call merges any that
			// arrive before their own event is processed without
			// duplicating tree entries (Add is idempotent per path).
			_ = walkDir(path, w, w.Tree, false)
		}
	}
}

//go:build windows

package watching

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/fstree/fswatch/pkg/logging"
)

func init() {
	registerBackendFactory(BackendWindows, newWindowsBackend)
}

const (
	// windowsNotifyFilter is the set of change classes requested on every
	// watched directory, covering create/delete/rename (via name changes),
	// content writes, and attribute changes.
	windowsNotifyFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
		windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
		windows.FILE_NOTIFY_CHANGE_LAST_WRITE

	// windowsBufferSize is the size of each watch's overlapped read buffer.
	windowsBufferSize = 64 * 1024

	// windowsRootPollInterval is how often the watch root's identity is
	// re-checked, since ReadDirectoryChangesW silently stops reporting
	// anything useful if the root itself is replaced.
	windowsRootPollInterval = 5 * time.Second

	// windowsPendingMoveTTL bounds how long a FILE_ACTION_RENAMED_OLD_NAME
	// is held while waiting for its paired NEW_NAME record, matching the
	// rename-correlation window described for the Windows backend.
	windowsPendingMoveTTL = 5 * time.Second
)

// windowsWatch is the per-watcher overlapped I/O state. A single handle
// opened with bWatchSubtree=true covers the entire tree, so there is
// exactly one of these per subscription rather than one per directory.
type windowsWatch struct {
	// overlapped stays the first field: run converts each completion
	// packet's *Overlapped back to the *windowsWatch that issued the read.
	overlapped windows.Overlapped
	watcher  *Watcher
	handle   windows.Handle
	buffer   [windowsBufferSize]byte
	rootAttr windows.Win32FileAttributeData

	pendingMu   sync.Mutex
	pending     map[string]pendingMove // old name -> pending rename record
	lastOldName string                 // most recent OLD_NAME, paired with the next NEW_NAME

	done chan struct{}
}

type pendingMove struct {
	path string
	at   time.Time
}

// windowsBackend implements Backend using one shared I/O completion port
// and a single worker goroutine draining it, per the one-worker-thread-
// per-backend design; ReadDirectoryChangesW with bWatchSubtree=true makes
// the native watch itself recursive, so no per-directory bookkeeping is
// needed the way inotify requires.
type windowsBackend struct {
	logger *logging.Logger

	subscriptions *subscriptionSet

	port windows.Handle

	mu      sync.Mutex
	watches map[*Watcher]*windowsWatch

	runDone chan struct{}
}

func newWindowsBackend(logger *logging.Logger) (Backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create I/O completion port: %v", ErrUnsupportedBackend, err)
	}

	b := &windowsBackend{
		logger:        logger,
		subscriptions: newSubscriptionSet(),
		port:          port,
		watches:       make(map[*Watcher]*windowsWatch),
		runDone:       make(chan struct{}),
	}

	go b.run()

	return b, nil
}

func (b *windowsBackend) Kind() string { return BackendWindows }

func (b *windowsBackend) shutdown() {
	windows.PostQueuedCompletionStatus(b.port, 0, 0, nil)
	<-b.runDone
	windows.CloseHandle(b.port)
}

func (b *windowsBackend) Watch(w *Watcher) error {
	return b.subscriptions.watch(w, b.subscribe)
}

func (b *windowsBackend) Unwatch(w *Watcher) error {
	_, err := b.subscriptions.unwatch(w, b.unsubscribe)
	return err
}

func (b *windowsBackend) WriteSnapshot(w *Watcher, path string) error {
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

func (b *windowsBackend) GetEventsSince(w *Watcher, path string) ([]Event, error) {
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

// subscribe builds the initial mirror tree, opens a single overlapped
// handle on the root with FILE_FLAG_BACKUP_SEMANTICS (required to open a
// directory handle at all), associates it with the shared completion
// port, and starts the first overlapped read.
func (b *windowsBackend) subscribe(w *Watcher) error {
	if err := readTree(w.Dir, w, w.Tree); err != nil {
		return err
	}

	pathPtr, err := windows.UTF16PtrFromString(w.Dir)
	if err != nil {
		return err
	}

	handle, err := windows.CreateFile(
		pathPtr,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return fmt.Errorf("unable to open watch root: %w", err)
	}

	var rootAttr windows.Win32FileAttributeData
	if err := windows.GetFileAttributesEx(pathPtr, windows.GetFileExInfoStandard, (*byte)(unsafe.Pointer(&rootAttr))); err != nil {
		windows.CloseHandle(handle)
		return fmt.Errorf("unable to query watch root attributes: %w", err)
	}

	if _, err := windows.CreateIoCompletionPort(handle, b.port, 0, 0); err != nil {
		windows.CloseHandle(handle)
		return fmt.Errorf("unable to associate completion port: %w", err)
	}

	wc := &windowsWatch{
		watcher:  w,
		handle:   handle,
		rootAttr: rootAttr,
		pending:  make(map[string]pendingMove),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.watches[w] = wc
	b.mu.Unlock()

	if err := b.startRead(wc); err != nil {
		b.mu.Lock()
		delete(b.watches, w)
		b.mu.Unlock()
		windows.CloseHandle(handle)
		return err
	}

	go b.pollRoot(wc)

	return nil
}

func (b *windowsBackend) unsubscribe(w *Watcher) error {
	b.mu.Lock()
	wc, ok := b.watches[w]
	delete(b.watches, w)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	windows.CancelIo(wc.handle)
	windows.CloseHandle(wc.handle)
	close(wc.done)
	return nil
}

// startRead issues the next overlapped ReadDirectoryChangesW call.
func (b *windowsBackend) startRead(wc *windowsWatch) error {
	return windows.ReadDirectoryChanges(
		wc.handle,
		&wc.buffer[0],
		uint32(len(wc.buffer)),
		true, // bWatchSubtree: recursive
		windowsNotifyFilter,
		nil,
		&wc.overlapped,
		0,
	)
}

// pollRoot periodically re-checks the watch root's attributes, since a
// root directory deleted and replaced (or swapped for a symlink) will
// leave ReadDirectoryChangesW silently watching a now-orphaned handle.
func (b *windowsBackend) pollRoot(wc *windowsWatch) {
	ticker := time.NewTicker(windowsRootPollInterval)
	defer ticker.Stop()

	pathPtr, err := windows.UTF16PtrFromString(wc.watcher.Dir)
	if err != nil {
		return
	}

	for {
		select {
		case <-wc.done:
			return
		case <-ticker.C:
			var current windows.Win32FileAttributeData
			if err := windows.GetFileAttributesEx(pathPtr, windows.GetFileExInfoStandard, (*byte)(unsafe.Pointer(&current))); err != nil {
				b.subscriptions.handleWatcherError(wc.watcher, fmt.Errorf("unable to query watch root: %w", err))
				return
			}
			if current.FileAttributes != wc.rootAttr.FileAttributes || current.CreationTime != wc.rootAttr.CreationTime {
				b.subscriptions.handleWatcherError(wc.watcher, fmt.Errorf("watch root replaced"))
				return
			}
		}
	}
}

// run is the backend's single worker goroutine, draining the shared
// completion port and dispatching each packet to the watch it belongs to.
func (b *windowsBackend) run() {
	defer close(b.runDone)

	for {
		var n uint32
		var key uintptr
		var overlapped *windows.Overlapped

		err := windows.GetQueuedCompletionStatus(b.port, &n, &key, &overlapped, windows.INFINITE)
		if overlapped == nil {
			// Woken by shutdown's zero-length post.
			return
		}

		wc := (*windowsWatch)(unsafe.Pointer(overlapped))
		if err != nil {
			if err == windows.ERROR_ACCESS_DENIED {
				b.subscriptions.handleWatcherError(wc.watcher, fmt.Errorf("watch root inaccessible: %w", err))
				continue
			}
			b.subscriptions.handleWatcherError(wc.watcher, fmt.Errorf("GetQueuedCompletionStatus: %w", err))
			continue
		}

		b.processBuffer(wc, n)

		if startErr := b.startRead(wc); startErr != nil {
			b.subscriptions.handleWatcherError(wc.watcher, fmt.Errorf("unable to restart watch: %w", startErr))
			continue
		}

		wc.watcher.Notify()
	}
}

// processBuffer walks every FILE_NOTIFY_INFORMATION record in one
// completion packet, applying it to the watcher's mirror tree and
// EventList. Renames arrive as a matched OLD_NAME/NEW_NAME pair; OLD_NAME
// is held in wc.pending until its partner shows up or windowsPendingMoveTTL
// elapses, after which it is reported as a plain delete.
func (b *windowsBackend) processBuffer(wc *windowsWatch, n uint32) {
	w := wc.watcher
	b.expirePendingMoves(wc)

	var offset uint32
	for {
		if n == 0 || offset >= n {
			break
		}

		raw := (*windows.FileNotifyInformation)(unsafe.Pointer(&wc.buffer[offset]))
		nameLen := int(raw.FileNameLength / 2)
		units := unsafe.Slice((*uint16)(unsafe.Pointer(&raw.FileName)), nameLen)
		name := windows.UTF16ToString(units)
		name = strings.ReplaceAll(name, "\\", "/")
		path := filepath.Join(w.Dir, name)

		if w.IsIgnored(path) {
			if raw.NextEntryOffset == 0 {
				break
			}
			offset += raw.NextEntryOffset
			continue
		}

		switch raw.Action {
		case windows.FILE_ACTION_ADDED:
			b.applyCreate(w, path)
		case windows.FILE_ACTION_REMOVED:
			b.applyRemove(w, path)
		case windows.FILE_ACTION_MODIFIED:
			b.applyUpdate(w, path)
		case windows.FILE_ACTION_RENAMED_OLD_NAME:
			wc.pendingMu.Lock()
			wc.pending[name] = pendingMove{path: path, at: time.Now()}
			wc.lastOldName = name
			wc.pendingMu.Unlock()
		case windows.FILE_ACTION_RENAMED_NEW_NAME:
			wc.pendingMu.Lock()
			oldName := wc.lastOldName
			wc.pendingMu.Unlock()
			b.applyRename(w, wc, oldName, path)
		}

		if raw.NextEntryOffset == 0 {
			break
		}
		offset += raw.NextEntryOffset
	}
}

func (b *windowsBackend) applyCreate(w *Watcher, path string) {
	kind, mtime, ino, fileID, err := platformStat(path)
	if err != nil {
		return
	}
	w.Tree.Add(path, kind, mtime, ino, fileID)
	w.Events.Create(path, kind, ino, fileID)
}

func (b *windowsBackend) applyUpdate(w *Watcher, path string) {
	kind, mtime, ino, fileID, err := platformStat(path)
	if err != nil {
		return
	}
	w.Tree.Update(path, mtime, ino, fileID)
	w.Events.Update(path, kind, ino, fileID)
}

func (b *windowsBackend) applyRemove(w *Watcher, path string) {
	entry := w.Tree.Find(path)
	w.Tree.Remove(path, true)
	kind := KindUnknown
	var ino uint64
	fileID := FakeFileID
	if entry != nil {
		kind, ino, fileID = entry.Kind, entry.Ino, entry.FileID
	}
	w.Events.Remove(path, kind, ino, fileID)
}

// applyRename correlates a NEW_NAME record with its previously recorded
// OLD_NAME, if still pending, and reports a Rename; otherwise it degrades
// to a plain Create, since the old-name half was either never seen or
// already expired.
func (b *windowsBackend) applyRename(w *Watcher, wc *windowsWatch, name, path string) {
	wc.pendingMu.Lock()
	move, ok := wc.pending[name]
	if ok {
		delete(wc.pending, name)
	}
	wc.pendingMu.Unlock()

	if !ok {
		b.applyCreate(w, path)
		return
	}

	entry := w.Tree.Find(move.path)
	kind := KindUnknown
	var ino uint64
	fileID := FakeFileID
	if entry != nil {
		kind, ino, fileID = entry.Kind, entry.Ino, entry.FileID
	}
	w.Tree.Remove(move.path, true)

	if newKind, mtime, newIno, newFileID, err := platformStat(path); err == nil {
		kind, ino, fileID = newKind, newIno, newFileID
		w.Tree.Add(path, kind, mtime, ino, fileID)
	}

	w.Events.Rename(move.path, path, kind, ino, fileID)
}

// expirePendingMoves drops any OLD_NAME record that has outlived
// windowsPendingMoveTTL without its matching NEW_NAME, reporting it as a
// delete since no rename ever completed.
func (b *windowsBackend) expirePendingMoves(wc *windowsWatch) {
	now := time.Now()
	wc.pendingMu.Lock()
	var expired []pendingMove
	for name, move := range wc.pending {
		if now.Sub(move.at) > windowsPendingMoveTTL {
			expired = append(expired, move)
			delete(wc.pending, name)
		}
	}
	wc.pendingMu.Unlock()

	for _, move := range expired {
		b.applyRemove(wc.watcher, move.path)
	}
}

// platformStat re-reads a changed path's metadata for mirroring; Windows
// notification records only carry a name and an action, not attributes.
func platformStat(path string) (kind Kind, mtimeNanos int64, ino uint64, fileID string, err error) {
	pathPtr, perr := windows.UTF16PtrFromString(path)
	if perr != nil {
		err = perr
		return
	}
	var attr windows.Win32FileAttributeData
	if err = windows.GetFileAttributesEx(pathPtr, windows.GetFileExInfoStandard, (*byte)(unsafe.Pointer(&attr))); err != nil {
		return
	}
	if attr.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0 {
		kind = KindDirectory
	} else {
		kind = KindFile
	}
	mtimeNanos = attr.LastWriteTime.Nanoseconds()
	ino = FakeIno
	fileID, _ = windowsFileID(path)
	if fileID == "" {
		fileID = FakeFileID
	}
	return
}

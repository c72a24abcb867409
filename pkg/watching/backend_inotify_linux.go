//go:build linux

package watching

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sys/unix"

	"github.com/fstree/fswatch/pkg/logging"
)

func init() {
	registerBackendFactory(BackendInotify, newInotifyBackend)
}

const (
	// inotifyWatchMask is the event mask installed on every watched
	// directory.
	inotifyWatchMask = unix.IN_ATTRIB | unix.IN_CREATE | unix.IN_DELETE |
		unix.IN_DELETE_SELF | unix.IN_MODIFY | unix.IN_MOVE_SELF |
		unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_DONT_FOLLOW |
		unix.IN_ONLYDIR | unix.IN_EXCL_UNLINK

	// inotifyEventHeaderSize is sizeof(struct inotify_event) without the
	// variable-length name field.
	inotifyEventHeaderSize = 16
	// inotifyReadBufferSize is sized generously so that a single Read call
	// usually drains an entire burst.
	inotifyReadBufferSize = 64 * 1024
	// inotifyPollTimeoutMillis is the poll(2) timeout. A timeout only
	// restarts the poll; shutdown is noticed when the self-pipe becomes
	// readable.
	inotifyPollTimeoutMillis = 500
	// inotifyMaxWatchesPerWatcher bounds the number of directory watches any
	// single watcher may hold; beyond this, the watch added (or refreshed)
	// least recently is removed, and no error or warning is reported.
	inotifyMaxWatchesPerWatcher = 64 * 1024
)

// inotifyWatchEntry records which watcher and mirror path a watch
// descriptor corresponds to.
type inotifyWatchEntry struct {
	watcher *Watcher
	path    string
}

// inotifyBackend implements Backend using a single inotify file descriptor
// shared by every subscribed watcher, per the one-worker-thread-per-backend
// design. A self-pipe lets shutdown interrupt the poll loop.
type inotifyBackend struct {
	logger *logging.Logger

	subscriptions *subscriptionSet

	mu       sync.Mutex
	fd       int
	wdToInfo map[int32]*inotifyWatchEntry
	watches  map[*Watcher]*lru.Cache // per-watcher LRU of path -> wd, for eviction

	pipeRead  int
	pipeWrite int

	runDone chan struct{}
}

func newInotifyBackend(logger *logging.Logger) (Backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to initialize inotify: %v", ErrUnsupportedBackend, err)
	}

	pipeFDs := make([]int, 2)
	if err := unix.Pipe2(pipeFDs, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: unable to create shutdown pipe: %v", ErrUnsupportedBackend, err)
	}

	b := &inotifyBackend{
		logger:        logger,
		subscriptions: newSubscriptionSet(),
		fd:            fd,
		wdToInfo:      make(map[int32]*inotifyWatchEntry),
		watches:       make(map[*Watcher]*lru.Cache),
		pipeRead:      pipeFDs[0],
		pipeWrite:     pipeFDs[1],
		runDone:       make(chan struct{}),
	}

	go b.run()

	return b, nil
}

func (b *inotifyBackend) Kind() string { return BackendInotify }

// shutdown is invoked by ReleaseSharedBackend once the last reference is
// dropped.
func (b *inotifyBackend) shutdown() {
	unix.Write(b.pipeWrite, []byte{0})
	<-b.runDone
	unix.Close(b.fd)
	unix.Close(b.pipeRead)
	unix.Close(b.pipeWrite)
}

func (b *inotifyBackend) Watch(w *Watcher) error {
	return b.subscriptions.watch(w, b.subscribe)
}

func (b *inotifyBackend) Unwatch(w *Watcher) error {
	_, err := b.subscriptions.unwatch(w, b.unsubscribe)
	return err
}

func (b *inotifyBackend) WriteSnapshot(w *Watcher, path string) error {
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

func (b *inotifyBackend) GetEventsSince(w *Watcher, path string) ([]Event, error) {
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

// subscribe builds the watcher's complete mirror tree and installs a
// directory watch for every directory entry, including the root.
func (b *inotifyBackend) subscribe(w *Watcher) error {
	if err := readTree(w.Dir, w, w.Tree); err != nil {
		return err
	}

	b.mu.Lock()
	evictor := lru.New(inotifyMaxWatchesPerWatcher)
	evictor.OnEvicted = func(key lru.Key, value interface{}) {
		if wd, ok := value.(int32); ok {
			unix.InotifyRmWatch(b.fd, uint32(wd))
			delete(b.wdToInfo, wd)
		}
	}
	b.watches[w] = evictor
	b.mu.Unlock()

	if err := b.addWatch(w, w.Dir); err != nil {
		return err
	}

	dirs := w.Tree.directories()
	for _, dir := range dirs {
		if err := b.addWatch(w, dir); err != nil {
			w.NotifyError(&WatcherError{Dir: w.Dir, Err: err, Overflow: false})
		}
	}

	return nil
}

// addWatch installs (or refreshes) a watch on path for watcher w.
func (b *inotifyBackend) addWatch(w *Watcher, path string) error {
	wd, err := unix.InotifyAddWatch(b.fd, path, inotifyWatchMask)
	if err != nil {
		return fmt.Errorf("inotify_add_watch(%s): %w", path, err)
	}

	b.mu.Lock()
	b.wdToInfo[int32(wd)] = &inotifyWatchEntry{watcher: w, path: path}
	if evictor, ok := b.watches[w]; ok {
		evictor.Add(path, int32(wd))
	}
	b.mu.Unlock()

	return nil
}

// unsubscribe removes every watch descriptor belonging to w.
func (b *inotifyBackend) unsubscribe(w *Watcher) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for wd, info := range b.wdToInfo {
		if info.watcher == w {
			unix.InotifyRmWatch(b.fd, uint32(wd))
			delete(b.wdToInfo, wd)
		}
	}
	delete(b.watches, w)
	return nil
}

// run is the backend's single worker goroutine: it polls the inotify fd
// and the shutdown pipe, decodes raw inotify events, and updates each
// affected watcher's mirror tree and EventList.
func (b *inotifyBackend) run() {
	defer close(b.runDone)

	buffer := make([]byte, inotifyReadBufferSize)
	touched := make(map[*Watcher]bool)

	for {
		pollFDs := []unix.PollFd{
			{Fd: int32(b.pipeRead), Events: unix.POLLIN},
			{Fd: int32(b.fd), Events: unix.POLLIN},
		}

		n, err := unix.Poll(pollFDs, inotifyPollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			b.logger.Errorf("poll failed: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		if pollFDs[0].Revents&unix.POLLIN != 0 {
			return
		}

		if pollFDs[1].Revents&unix.POLLIN == 0 {
			continue
		}

		count, err := unix.Read(b.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			b.logger.Errorf("read failed: %v", err)
			return
		}

		for k := range touched {
			delete(touched, k)
		}
		b.processBuffer(buffer[:count], touched)

		for w := range touched {
			w.Notify()
		}
	}
}

// processBuffer decodes every inotify_event record in buffer and applies it
// to the corresponding watcher's mirror tree and EventList.
func (b *inotifyBackend) processBuffer(buffer []byte, touched map[*Watcher]bool) {
	offset := 0
	for offset+inotifyEventHeaderSize <= len(buffer) {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buffer[offset]))
		nameLen := int(raw.Len)
		nameStart := offset + inotifyEventHeaderSize
		nameEnd := nameStart + nameLen
		if nameEnd > len(buffer) {
			break
		}

		name := ""
		if nameLen > 0 {
			name = cString(buffer[nameStart:nameEnd])
		}

		b.handleEvent(raw.Wd, raw.Mask, name, touched)

		offset = nameEnd
	}
}

// cString trims trailing NUL padding from a fixed-size inotify name field.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// handleEvent applies one decoded inotify event, per the mapping in the
// design: CREATE/MOVED_TO adds to the tree, MODIFY/ATTRIB updates it, and
// DELETE/DELETE_SELF/MOVED_FROM/MOVE_SELF removes from it, evicting the
// watch descriptor for any removed directory.
func (b *inotifyBackend) handleEvent(wd int32, mask uint32, name string, touched map[*Watcher]bool) {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		b.mu.Lock()
		for _, info := range b.wdToInfo {
			info.watcher.NotifyError(&WatcherError{
				Dir:      info.watcher.Dir,
				Err:      ErrTooManyPendingPaths,
				Overflow: true,
			})
		}
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	info, ok := b.wdToInfo[wd]
	b.mu.Unlock()
	if !ok {
		return
	}

	w := info.watcher
	isSelfEvent := mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0
	path := info.path
	if name != "" {
		path = filepath.Join(info.path, name)
	}

	if w.IsIgnored(path) {
		return
	}

	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		kind, mtime, ino, fileID, statErr := statForTree(path)
		if statErr != nil {
			return
		}
		w.Tree.Add(path, kind, mtime, ino, fileID)
		w.Events.Create(path, kind, ino, fileID)
		if kind == KindDirectory {
			if err := b.addWatch(w, path); err != nil {
				w.NotifyError(&WatcherError{Dir: w.Dir, Err: err})
			}
		}
		touched[w] = true
	case mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0:
		kind, mtime, ino, fileID, statErr := statForTree(path)
		if statErr != nil {
			return
		}
		w.Tree.Update(path, mtime, ino, fileID)
		w.Events.Update(path, kind, ino, fileID)
		touched[w] = true
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF|unix.IN_MOVED_FROM|unix.IN_MOVE_SELF) != 0:
		if isSelfEvent && path != w.Dir {
			// The child watch on this directory will fire its own DELETE;
			// avoid double-reporting.
			return
		}
		entry := w.Tree.Find(path)
		w.Tree.Remove(path, true)
		if entry != nil && entry.Kind == KindDirectory {
			b.mu.Lock()
			if evictor, ok := b.watches[w]; ok {
				evictor.Remove(path)
			}
			b.mu.Unlock()
		}
		kind := KindUnknown
		var ino uint64
		fileID := FakeFileID
		if entry != nil {
			kind = entry.Kind
			ino = entry.Ino
			fileID = entry.FileID
		}
		w.Events.Remove(path, kind, ino, fileID)
		touched[w] = true
	}
}

// statForTree re-reads a changed path's metadata for mirroring; used by the
// inotify event handlers, which only receive a name, not full attributes.
func statForTree(path string) (kind Kind, mtimeNanos int64, ino uint64, fileID string, err error) {
	var stat unix.Stat_t
	if err = unix.Lstat(path, &stat); err != nil {
		return
	}
	if stat.Mode&unix.S_IFMT == unix.S_IFDIR {
		kind = KindDirectory
	} else {
		kind = KindFile
	}
	mtimeNanos = stat.Mtim.Sec*int64(time.Second) + stat.Mtim.Nsec
	ino = stat.Ino
	fileID = FakeFileID
	return
}

package watching

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fstree/fswatch/pkg/logging"
	"github.com/fstree/fswatch/pkg/watching/internal/bser"
)

func init() {
	registerBackendFactory(BackendWatchman, newWatchmanBackend)
}

// watchmanCall pairs one in-flight request with the Signal that wakes its
// caller once a non-subscription frame arrives.
type watchmanCall struct {
	response interface{}
	err      error
	signal   *Signal
}

// watchmanBackend talks to an external Watchman daemon over its BSER
// socket protocol. Unlike the native backends, the daemon itself tracks
// the mirror tree (via its clock tokens); this backend only translates
// calls and demultiplexes subscription pushes, per the design's framing
// of Watchman as an opaque request/response channel.
type watchmanBackend struct {
	logger *logging.Logger

	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[*Watcher]string // watcher -> subscription name
	pending       *watchmanCall       // the one in-flight synchronous call
	stopped       bool

	done chan struct{}
}

func newWatchmanBackend(logger *logging.Logger) (Backend, error) {
	sockPath, err := watchmanSockPath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedBackend, err)
	}

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to connect to watchman: %v", ErrUnsupportedBackend, err)
	}

	b := &watchmanBackend{
		logger:        logger,
		conn:          conn,
		reader:        bufio.NewReader(conn),
		subscriptions: make(map[*Watcher]string),
		done:          make(chan struct{}),
	}

	go b.run()

	return b, nil
}

// watchmanSockPath resolves the daemon's control socket: WATCHMAN_SOCK if
// set, otherwise the path reported by `watchman get-sockname`.
func watchmanSockPath() (string, error) {
	if path := os.Getenv("WATCHMAN_SOCK"); path != "" {
		return path, nil
	}

	out, err := exec.Command("watchman", "--output-encoding=bser", "get-sockname").Output()
	if err != nil {
		return "", fmt.Errorf("unable to invoke watchman get-sockname: %w", err)
	}

	decoded, err := bser.Decode(bufio.NewReader(strings.NewReader(string(out))))
	if err != nil {
		return "", fmt.Errorf("unable to decode get-sockname response: %w", err)
	}

	fields, ok := decoded.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected get-sockname response shape")
	}
	sockname, ok := fields["sockname"].(string)
	if !ok {
		return "", fmt.Errorf("get-sockname response missing sockname")
	}
	return sockname, nil
}

func (b *watchmanBackend) Kind() string { return BackendWatchman }

func (b *watchmanBackend) shutdown() {
	b.mu.Lock()
	b.stopped = true
	pending := b.pending
	b.mu.Unlock()

	b.conn.Close()
	if pending != nil {
		pending.signal.Notify()
	}
	<-b.done
}

func (b *watchmanBackend) Watch(w *Watcher) error {
	b.mu.Lock()
	_, subscribed := b.subscriptions[w]
	b.mu.Unlock()
	if subscribed {
		return nil
	}

	if _, err := b.call([]interface{}{"watch", w.Dir}); err != nil {
		return err
	}

	name := uuid.NewString()
	expr := watchmanIgnoreExpression(w)
	subscribeArgs := map[string]interface{}{
		"expression": []interface{}{"true"},
		"fields":     []interface{}{"name", "exists", "new", "type", "mtime_ms"},
	}
	if expr != nil {
		subscribeArgs["expression"] = expr
	}

	if _, err := b.call([]interface{}{"subscribe", w.Dir, name, subscribeArgs}); err != nil {
		return err
	}

	b.mu.Lock()
	b.subscriptions[w] = name
	b.mu.Unlock()

	return readTree(w.Dir, w, w.Tree)
}

func (b *watchmanBackend) Unwatch(w *Watcher) error {
	b.mu.Lock()
	name, ok := b.subscriptions[w]
	delete(b.subscriptions, w)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	_, err := b.call([]interface{}{"unsubscribe", w.Dir, name})
	return err
}

// WriteSnapshot uses the daemon's own clock token as the snapshot format,
// since Watchman already maintains change history keyed by clock.
func (b *watchmanBackend) WriteSnapshot(w *Watcher, path string) error {
	if _, err := b.call([]interface{}{"watch", w.Dir}); err != nil {
		return err
	}

	response, err := b.call([]interface{}{"clock", w.Dir})
	if err != nil {
		return err
	}
	fields, ok := response.(map[string]interface{})
	if !ok {
		return fmt.Errorf("watchman: unexpected clock response shape")
	}
	clock, ok := fields["clock"].(string)
	if !ok {
		return fmt.Errorf("watchman: clock response missing clock token")
	}

	file, err := createSnapshotFile(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(clock)
	return err
}

func (b *watchmanBackend) GetEventsSince(w *Watcher, path string) ([]Event, error) {
	clockBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read snapshot clock: %w", err)
	}

	if _, err := b.call([]interface{}{"watch", w.Dir}); err != nil {
		return nil, err
	}

	sinceArgs := map[string]interface{}{
		"fields": []interface{}{"name", "exists", "new", "type", "mtime_ms"},
	}
	response, err := b.call([]interface{}{"since", w.Dir, string(clockBytes), sinceArgs})
	if err != nil {
		return nil, err
	}

	return watchmanFilesToEvents(response, w)
}

// run is the backend's single worker thread: it reads one BSER frame at a
// time, routing subscription pushes to handle_subscription and everything
// else to the one pending synchronous call.
func (b *watchmanBackend) run() {
	defer close(b.done)

	for {
		value, err := bser.Decode(b.reader)
		if err != nil {
			b.mu.Lock()
			stopped := b.stopped
			pending := b.pending
			b.pending = nil
			b.mu.Unlock()

			if pending != nil {
				pending.err = err
				pending.signal.Notify()
			}
			if !stopped {
				b.broadcastError(fmt.Errorf("watchman connection lost: %w", err))
			}
			return
		}

		fields, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		if _, isSubscriptionPush := fields["subscription"]; isSubscriptionPush {
			b.handleSubscription(fields)
			continue
		}

		b.mu.Lock()
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()

		if pending != nil {
			if errMsg, hasError := fields["error"].(string); hasError {
				pending.err = fmt.Errorf("watchman: %s", errMsg)
			} else {
				pending.response = fields
			}
			pending.signal.Notify()
		}
	}
}

// call sends one BSER request and blocks until the paired response frame
// arrives, serializing synchronous calls the way the design's paired
// requestSignal/responseSignal describes.
func (b *watchmanBackend) call(request []interface{}) (interface{}, error) {
	encoded, err := bser.Encode(request)
	if err != nil {
		return nil, err
	}

	call := &watchmanCall{signal: NewSignal()}

	b.writeMu.Lock()
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.writeMu.Unlock()
		return nil, ErrWatchTerminated
	}
	b.pending = call
	b.mu.Unlock()

	_, writeErr := b.conn.Write(encoded)
	if writeErr != nil {
		b.writeMu.Unlock()
		return nil, writeErr
	}

	call.signal.Wait()
	b.writeMu.Unlock()
	return call.response, call.err
}

// handleSubscription applies one subscription push's file list to the
// corresponding watcher's mirror tree and EventList.
func (b *watchmanBackend) handleSubscription(fields map[string]interface{}) {
	subName, _ := fields["subscription"].(string)

	b.mu.Lock()
	var target *Watcher
	for w, name := range b.subscriptions {
		if name == subName {
			target = w
			break
		}
	}
	b.mu.Unlock()

	if target == nil {
		return
	}

	if _, err := watchmanFilesToEvents(fields, target); err == nil {
		target.Notify()
	}
}

// watchmanFilesToEvents converts a Watchman "files" field into tree
// updates and Event records, classifying each entry by its exists/new
// fields the way the daemon reports them.
func watchmanFilesToEvents(response interface{}, w *Watcher) ([]Event, error) {
	fields, ok := response.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("watchman: unexpected response shape")
	}
	filesRaw, ok := fields["files"].([]interface{})
	if !ok {
		return w.Events.Events(), nil
	}

	for _, entryRaw := range filesRaw {
		entry, ok := entryRaw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" {
			continue
		}
		path := name
		if w.Dir != "" {
			path = w.Dir + string(os.PathSeparator) + name
		}
		if w.IsIgnored(path) {
			continue
		}

		exists, _ := entry["exists"].(bool)
		isNew, _ := entry["new"].(bool)
		kind := KindFile
		if typ, _ := entry["type"].(string); typ == "d" {
			kind = KindDirectory
		}
		mtimeMs, _ := entry["mtime_ms"].(int64)

		if !exists {
			existing := w.Tree.Find(path)
			w.Tree.Remove(path, true)
			k := KindUnknown
			var ino uint64
			fileID := FakeFileID
			if existing != nil {
				k, ino, fileID = existing.Kind, existing.Ino, existing.FileID
			}
			w.Events.Remove(path, k, ino, fileID)
			continue
		}

		if isNew {
			w.Tree.Add(path, kind, mtimeMs*int64(1e6), FakeIno, FakeFileID)
			w.Events.Create(path, kind, FakeIno, FakeFileID)
		} else {
			w.Tree.Update(path, mtimeMs*int64(1e6), FakeIno, FakeFileID)
			w.Events.Update(path, kind, FakeIno, FakeFileID)
		}
	}

	return w.Events.Events(), nil
}

// watchmanIgnoreExpression translates a watcher's ignore paths into the
// "not (anyof (dirname ...))" query expression so the daemon filters
// before ever sending events, per the design.
func watchmanIgnoreExpression(w *Watcher) []interface{} {
	if len(w.IgnorePaths) == 0 {
		return nil
	}

	anyof := []interface{}{"anyof"}
	for _, ignored := range w.IgnorePaths {
		rel := strings.TrimPrefix(ignored, w.Dir+string(os.PathSeparator))
		anyof = append(anyof, []interface{}{"dirname", rel})
	}

	return []interface{}{"not", anyof}
}

// broadcastError delivers a fatal connection error to every subscribed
// watcher, used when the daemon connection itself is lost.
func (b *watchmanBackend) broadcastError(err error) {
	b.mu.Lock()
	watchers := make([]*Watcher, 0, len(b.subscriptions))
	for w := range b.subscriptions {
		watchers = append(watchers, w)
	}
	b.mu.Unlock()

	for _, w := range watchers {
		w.NotifyError(err)
	}
}

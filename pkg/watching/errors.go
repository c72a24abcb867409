package watching

import "errors"

var (
	// ErrWatchTerminated indicates that a watcher has been terminated, either
	// because its backend shut down or because it was explicitly unwatched.
	ErrWatchTerminated = errors.New("watch terminated")
	// ErrTooManyPendingPaths indicates that too many paths were coalesced into
	// a single pending event batch and some events may have been dropped.
	ErrTooManyPendingPaths = errors.New("too many pending paths")
	// ErrUnsupportedBackend indicates that the requested backend kind is not
	// available on the current platform or failed its availability check.
	ErrUnsupportedBackend = errors.New("unsupported backend")
	// ErrNotADirectory indicates that a watch or snapshot root is not a
	// directory.
	ErrNotADirectory = errors.New("path is not a directory")
	// ErrSubscriptionUnsupported indicates that a backend does not support
	// live subscriptions (currently only the brute-force backend).
	ErrSubscriptionUnsupported = errors.New("backend does not support live subscriptions")
	// ErrInvalidIgnoreGlob indicates that an ignore glob failed to compile.
	ErrInvalidIgnoreGlob = errors.New("invalid ignore glob")
)

// WatcherError wraps an error that occurred on a backend's worker thread and
// that could not be attributed to a single synchronous caller. It is
// delivered to subscribers via the error argument of their callback.
type WatcherError struct {
	// Dir is the root directory of the watcher that the error affects.
	Dir string
	// Err is the underlying error.
	Err error
	// Overflow indicates that the error represents lost events rather than a
	// fatal condition; the watcher remains subscribed.
	Overflow bool
}

// Error implements the error interface.
func (e *WatcherError) Error() string {
	if e.Overflow {
		return "overflow on " + e.Dir + ": " + e.Err.Error()
	}
	return "watcher error on " + e.Dir + ": " + e.Err.Error()
}

// Unwrap allows WatcherError to participate in errors.Is/errors.As chains.
func (e *WatcherError) Unwrap() error {
	return e.Err
}

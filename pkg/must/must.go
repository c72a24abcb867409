package must

import (
	"fmt"
	"io"
	"os"

	"github.com/fstree/fswatch/pkg/logging"
)

// Close closes c and logs a warning if the close fails. It's used in defer
// statements for resources whose close error can't sensibly be handled (e.g.
// during unwind after an earlier error, or for read-only handles).
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("Unable to close: %s", err.Error())
	}
}

// OSRemove removes the named file and logs a warning if the removal fails.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("Unable to remove '%s': %s", name, err.Error())
	}
}

// Terminate terminates s and logs a warning if termination fails.
func Terminate(s interface{ Terminate() error }, logger *logging.Logger) {
	if err := s.Terminate(); err != nil {
		logger.Warnf("Unable to terminate: %s", err.Error())
	}
}

// Unwatch unwatches path on u and logs a warning if unwatching fails.
func Unwatch(u interface{ Unwatch(string) error }, path string, logger *logging.Logger) {
	if err := u.Unwatch(path); err != nil {
		logger.Warnf("Unable to unwatch '%s': %s", path, err.Error())
	}
}

// IOCopy copies from src to dst and logs a warning if the copy fails.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("Unable to copy from source to destination: %s", err.Error())
	}
}

// Fprint writes to w and logs a warning if the write fails or is incomplete.
func Fprint(w io.Writer, logger *logging.Logger, a ...any) {
	s := fmt.Sprint(a...)
	n, err := fmt.Fprint(w, s)
	if err != nil {
		logger.Warnf("Unable to write '%s': %s", s, err.Error())
	} else if n < len(s) {
		logger.Warnf("Unable to write all of '%s'; wrote only %d of %d bytes", s, n, len(s))
	}
}

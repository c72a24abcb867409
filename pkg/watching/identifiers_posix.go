//go:build linux || darwin

package watching

import (
	"os"
	"syscall"
)

// platformIdentifiers extracts the POSIX inode number from a os.FileInfo.
// fileId is left at its sentinel on POSIX platforms; it is only populated
// on Windows, where inode numbers don't exist.
func platformIdentifiers(path string, info os.FileInfo) (ino uint64, fileID string) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Ino), FakeFileID
	}
	return FakeIno, FakeFileID
}

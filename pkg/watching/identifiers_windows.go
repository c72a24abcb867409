//go:build windows

package watching

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// platformIdentifiers derives a stable fileId from
// BY_HANDLE_FILE_INFORMATION, formatted as 0xHHHHHHHHLLLLLLLL, matching the
// format the Windows backend uses for its pending-move correlation. Windows
// has no POSIX inode concept, so ino stays at its sentinel.
func platformIdentifiers(path string, info os.FileInfo) (ino uint64, fileID string) {
	id, err := windowsFileID(path)
	if err != nil {
		return FakeIno, FakeFileID
	}
	return FakeIno, id
}

// windowsFileID opens path and reads its BY_HANDLE_FILE_INFORMATION to
// compute a stable per-volume identifier.
func windowsFileID(path string) (string, error) {
	pathPtr, err := windows.UTF16PtrFromString(`\\?\` + path)
	if err != nil {
		return "", err
	}

	handle, err := windows.CreateFile(
		pathPtr,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return "", err
	}
	defer windows.CloseHandle(handle)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &info); err != nil {
		return "", err
	}

	return fmt.Sprintf("0x%08X%08X", info.FileIndexHigh, info.FileIndexLow), nil
}

package watching

import (
	"fmt"
	"os"
)

// createSnapshotFile creates (or truncates) the file at path for writing a
// snapshot. Every backend writes its snapshot through it; the brute-force,
// inotify and Windows backends write a serialized DirTree.
func createSnapshotFile(path string) (*os.File, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create snapshot file: %w", err)
	}
	return file, nil
}

// readSnapshotFile opens and deserializes a tree-based snapshot file.
func readSnapshotFile(root, path string) (*DirTree, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open snapshot file: %w", err)
	}
	defer file.Close()

	tree, err := ReadDirTree(root, file)
	if err != nil {
		return nil, fmt.Errorf("unable to read snapshot: %w", err)
	}
	return tree, nil
}

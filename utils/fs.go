package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileOperations provides file system utilities
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// EnsureDir creates the parent directory of path if it doesn't exist
func (f *FileOperations) EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0700)
}

// FileExists checks if a file exists
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// WriteAtomic replaces path with whatever write produces. The file is
// fsynced and renamed into place with the given permissions, so readers see
// either the old or the new content.
func (f *FileOperations) WriteAtomic(path string, perm os.FileMode, write func(io.Writer) error) error {
	if err := f.EnsureDir(path); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pendingFile.Cleanup()

	if err := write(pendingFile); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

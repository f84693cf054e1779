package persist

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores the document in a single file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileBackend struct {
	filePath string
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend for the given path, creating parent
// directories with 0700 permissions if they don't exist.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	// MkdirAll leaves existing directories untouched
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, err
	}

	return &FileBackend{
		filePath: filePath,
	}, nil
}

// Load returns the stored document. Returns ErrNotFound (via the underlying
// fs error) if the file does not exist.
func (f *FileBackend) Load() ([]byte, error) {
	return os.ReadFile(f.filePath)
}

// Save atomically replaces the document using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileBackend) Save(data []byte) error {
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return nil
}

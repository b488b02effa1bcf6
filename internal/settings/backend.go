package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Backend reads and writes the settings blob.
//
// Write must replace the stored blob as a whole: readers never observe a
// partially written blob.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// FileBackend stores the blob in a single file.
type FileBackend struct {
	Path string
}

// NewFileBackend returns a backend storing the blob at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// Read returns the file contents.
func (b *FileBackend) Read() ([]byte, error) {
	return os.ReadFile(b.Path)
}

// Write writes data to a temporary file next to Path, syncs it, and renames
// it over Path.
func (b *FileBackend) Write(data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// the rename below is the commit point; anything earlier leaves Path untouched
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, b.Path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	committed = true
	return nil
}

// String returns the file path.
func (b *FileBackend) String() string {
	return b.Path
}

// ErrNoBlob is returned by [MemoryBackend.Read] before anything was written.
var ErrNoBlob = errors.New("no settings blob stored")

// MemoryBackend keeps the blob in memory. It is used by the simulated device
// and in tests.
type MemoryBackend struct {
	mu       sync.Mutex
	data     []byte
	WriteErr error
}

// Read returns a copy of the stored blob.
func (b *MemoryBackend) Read() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, ErrNoBlob
	}
	return append([]byte(nil), b.data...), nil
}

// Write stores a copy of data, or returns WriteErr if set.
func (b *MemoryBackend) Write(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.data = append([]byte(nil), data...)
	return nil
}

// String describes the backend for log output.
func (b *MemoryBackend) String() string {
	return "memory"
}

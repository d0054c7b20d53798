package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FileBackend writes the snapshot to a single JSON file.
// Writes go to a temp file in the same directory and are renamed into place,
// so a reader never sees a partial snapshot.
type FileBackend struct {
	path  string
	write writer
}

// NewFileBackend creates a file backend, creating the parent directory.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create state directory")
	}
	return &FileBackend{path: path}, nil
}

// Path returns the snapshot file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Save writes data atomically.
func (b *FileBackend) Save(ctx context.Context, data []byte) error {
	return b.write.run(ctx, func() error {
		tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*.tmp")
		if err != nil {
			return errors.Wrap(err, "failed to create temp file")
		}
		tmpName := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return errors.Wrap(err, "failed to write snapshot")
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return errors.Wrap(err, "failed to sync snapshot")
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return errors.Wrap(err, "failed to close snapshot")
		}
		if err := os.Rename(tmpName, b.path); err != nil {
			os.Remove(tmpName)
			return errors.Wrap(err, "failed to replace snapshot")
		}
		return nil
	})
}

// Load reads the snapshot file.
func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := runBounded(ctx, func() error {
		d, err := os.ReadFile(b.path)
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "failed to read snapshot")
		}
		data = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}

package productstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/macrolens/foodfacts/internal/domain"
)

// FileBackend keeps the whole store in a single JSON document.
// Every save rewrites the document: temp file first, then rename over the old one.
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend creates a file backend on fs at path
func NewFileBackend(fs afero.Fs, path string) *FileBackend {
	return &FileBackend{
		fs:   fs,
		path: path,
	}
}

// Load reads the document; a missing file is an empty store
func (b *FileBackend) Load(ctx context.Context) (*Snapshot, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrPersistenceFailure, b.path, err)
	}

	if len(data) == 0 {
		return NewSnapshot(), nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: malformed snapshot %s: %v", domain.ErrPersistenceFailure, b.path, err)
	}
	if err := checkVersion(snap.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if snap.Products == nil {
		snap.Products = make(map[string]domain.StoredProduct)
	}
	snap.Version = SnapshotVersion

	return &snap, nil
}

// Save replaces the document with the complete snapshot
func (b *FileBackend) Save(ctx context.Context, _ []domain.StoredProduct, snapshot func() *Snapshot) error {
	return b.write(snapshot())
}

// Clear replaces the document with an empty snapshot
func (b *FileBackend) Clear(ctx context.Context) error {
	return b.write(NewSnapshot())
}

// Size returns the size of the document on disk
func (b *FileBackend) Size(ctx context.Context) (int64, error) {
	info, err := b.fs.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: stat %s: %v", domain.ErrPersistenceFailure, b.path, err)
	}
	return info.Size(), nil
}

// Close is a no-op; every save is already complete on return
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) write(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", domain.ErrPersistenceFailure, err)
	}

	if dir := filepath.Dir(b.path); dir != "." && dir != "" {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", domain.ErrPersistenceFailure, dir, err)
		}
	}

	tmp := b.path + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrPersistenceFailure, tmp, err)
	}
	if err := b.fs.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", domain.ErrPersistenceFailure, tmp, err)
	}

	return nil
}

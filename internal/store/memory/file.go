package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"solemate/backend/internal/store"
)

// DefaultMaxSnapshotBytes caps a single persisted snapshot. Local device
// storage is the deployment target, so writes past the cap fail with
// ErrStorageQuota instead of filling the disk.
const DefaultMaxSnapshotBytes = 5 << 20

// FilePersister stores snapshots as files under a directory, one file per
// key. Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated snapshot behind.
type FilePersister struct {
	dir      string
	maxBytes int
}

func NewFilePersister(dir string, maxBytes int) (*FilePersister, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FilePersister{dir: dir, maxBytes: maxBytes}, nil
}

func (p *FilePersister) path(key string) string {
	return filepath.Join(p.dir, key+".json")
}

func (p *FilePersister) Load(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	return data, true, nil
}

func (p *FilePersister) Save(_ context.Context, key string, data []byte) error {
	if len(data) > p.maxBytes {
		return fmt.Errorf("snapshot is %d bytes, limit %d: %w", len(data), p.maxBytes, store.ErrStorageQuota)
	}

	tmp, err := os.CreateTemp(p.dir, key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

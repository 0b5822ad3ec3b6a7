// ABOUTME: Disk backup store; atomic writes via renameio
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

const backupFileName = "backup.json"

// DiskStore keeps the single latest backup document as one JSON file.
type DiskStore struct {
	path string
}

// NewDiskStore writes backups under dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &DiskStore{path: filepath.Join(dir, backupFileName)}, nil
}

// Save replaces the backup file atomically.
func (s *DiskStore) Save(_ context.Context, b Backup) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	return nil
}

// LoadLatest reads the backup file; a missing file is not an error.
func (s *DiskStore) LoadLatest(_ context.Context) (Backup, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Backup{}, false, nil
	}
	if err != nil {
		return Backup{}, false, fmt.Errorf("read backup file: %w", err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return Backup{}, false, fmt.Errorf("decode backup file: %w", err)
	}
	return b, true, nil
}

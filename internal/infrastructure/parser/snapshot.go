package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
)

// SnapshotFile reads and writes a collected batch as a JSON file.
type SnapshotFile struct {
	path string
}

var (
	_ ports.NewsSource     = (*SnapshotFile)(nil)
	_ ports.SnapshotWriter = (*SnapshotFile)(nil)
)

// NewSnapshotFile binds the snapshot to path.
func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

// Path returns the bound file path.
func (s *SnapshotFile) Path() string {
	return s.path
}

// Fetch returns the items of the stored snapshot. A missing file yields no
// items; items with neither URL nor ID are dropped.
func (s *SnapshotFile) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}

	items := make([]domain.NewsItem, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		if item.Key() == "" {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteSnapshot replaces the file atomically.
func (s *SnapshotFile) WriteSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.Items == nil {
		snapshot.Items = []domain.NewsItem{}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

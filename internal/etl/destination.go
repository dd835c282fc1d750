package etl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ── Destination ────────────────────────────────────────────
// A Destination receives the dataset produced by a pipeline run.
// The in-memory session (service.DatasetService) is the main one; files are
// written by FileDestination.

// Destination loads an ingested dataset into a target.
type Destination interface {
	Load(ctx context.Context, ds *Dataset) error
}

// ── File Destination ───────────────────────────────────────

// FileDestination writes each dataset as an export file into Dir.
type FileDestination struct {
	Dir string
	// Now defaults to time.Now.
	Now func() time.Time

	mu   sync.Mutex
	last string
}

func (d *FileDestination) Load(ctx context.Context, ds *Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	content, name, err := ExportFile(ds.Records, now())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	d.mu.Lock()
	d.last = path
	d.mu.Unlock()
	return nil
}

// LastPath returns the path of the most recent file written.
func (d *FileDestination) LastPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

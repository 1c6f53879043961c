// Package fs archives completed research as JSON files in a directory.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rezkam/fieldguide/internal/archive"
	"github.com/rezkam/fieldguide/internal/domain"
)

// Sink is a filesystem-based implementation of archive.Sink.
type Sink struct {
	baseDir string
	now     func() time.Time
}

var _ archive.Sink = (*Sink)(nil)

// New creates a filesystem sink rooted at baseDir, creating it if needed.
func New(baseDir string) (*Sink, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Sink{baseDir: baseDir, now: time.Now}, nil
}

func (s *Sink) filePath(id string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", id))
}

// Archive writes the job snapshot to <baseDir>/<jobId>.json, overwriting
// any previous snapshot for the same job.
func (s *Sink) Archive(ctx context.Context, job *domain.Job) error {
	rec := archive.Record{
		JobID:       job.ID,
		Name:        job.Name,
		CompletedAt: s.now().UnixMilli(),
		Body:        job.Body,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive record: %w", err)
	}

	if err := os.WriteFile(s.filePath(job.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

// List returns the archived job ids in filename order.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return ids, nil
}

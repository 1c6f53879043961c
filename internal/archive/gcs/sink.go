// Package gcs archives completed research as JSON objects in a GCS bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/rezkam/fieldguide/internal/archive"
	"github.com/rezkam/fieldguide/internal/domain"
)

// Sink is a GCS-based implementation of archive.Sink.
type Sink struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

var _ archive.Sink = (*Sink)(nil)

// New creates a GCS sink writing into bucketName.
// It assumes the client is authenticated (e.g. via GOOGLE_APPLICATION_CREDENTIALS).
func New(ctx context.Context, bucketName string) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Sink{client: client, bucket: bucketName, now: time.Now}, nil
}

func (s *Sink) objectName(id string) string {
	return fmt.Sprintf("%s.json", id)
}

// Archive writes the job snapshot to <bucket>/<jobId>.json, overwriting
// any previous snapshot for the same job.
func (s *Sink) Archive(ctx context.Context, job *domain.Job) error {
	rec := archive.Record{
		JobID:       job.ID,
		Name:        job.Name,
		CompletedAt: s.now().UnixMilli(),
		Body:        job.Body,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal archive record: %w", err)
	}

	w := s.client.Bucket(s.bucket).Object(s.objectName(job.ID)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write archive object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive object: %w", err)
	}
	return nil
}

// List returns the archived job ids in ascending order.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)

	var ids []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archive objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			ids = append(ids, strings.TrimSuffix(attrs.Name, ".json"))
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Close releases the underlying GCS client.
func (s *Sink) Close() error {
	return s.client.Close()
}

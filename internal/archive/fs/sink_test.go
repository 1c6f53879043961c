package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/fieldguide/internal/archive"
	"github.com/rezkam/fieldguide/internal/archive/archivetest"
	"github.com/rezkam/fieldguide/internal/domain"
)

func TestSinkCompliance(t *testing.T) {
	archivetest.RunSinkComplianceTest(t, func() (archive.Sink, func()) {
		sink, err := New(t.TempDir())
		require.NoError(t, err)
		return sink, func() {}
	})
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")

	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestArchive_WritesRecord(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.UnixMilli(1700000000000) }

	job := &domain.Job{
		ID:     "brown-pelican",
		Name:   "Brown Pelican",
		Status: domain.JobStatusCompleted,
		Body:   map[string]any{"research": "A large seabird."},
	}
	require.NoError(t, sink.Archive(context.Background(), job))

	data, err := os.ReadFile(filepath.Join(dir, "brown-pelican.json"))
	require.NoError(t, err)

	var rec archive.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "brown-pelican", rec.JobID)
	assert.Equal(t, "Brown Pelican", rec.Name)
	assert.Equal(t, int64(1700000000000), rec.CompletedAt)
	assert.Equal(t, map[string]any{"research": "A large seabird."}, rec.Body)
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Archive(context.Background(), &domain.Job{ID: "dodo", Name: "Dodo"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.json"), 0755))

	ids, err := sink.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dodo"}, ids)
}

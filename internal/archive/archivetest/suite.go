// Package archivetest provides a compliance suite that every archive.Sink
// implementation must pass.
package archivetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/fieldguide/internal/archive"
	"github.com/rezkam/fieldguide/internal/domain"
)

// RunSinkComplianceTest runs a standard set of tests against an
// archive.Sink implementation. setup returns a fresh (empty) sink for the
// test; the returned cleanup is called after each subtest.
func RunSinkComplianceTest(t *testing.T, setup func() (archive.Sink, func())) {
	t.Run("ListEmpty", func(t *testing.T) {
		sink, teardown := setup()
		defer teardown()

		ids, err := sink.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("ArchiveThenList", func(t *testing.T) {
		sink, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := &domain.Job{
			ID:     "brown-pelican",
			Name:   "Brown Pelican",
			Status: domain.JobStatusCompleted,
			Body:   map[string]any{"research": "A large seabird of the pelican family."},
		}
		require.NoError(t, sink.Archive(ctx, job))

		ids, err := sink.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"brown-pelican"}, ids)
	})

	t.Run("ArchiveAgainOverwrites", func(t *testing.T) {
		sink, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := &domain.Job{ID: "dodo", Name: "Dodo", Status: domain.JobStatusCompleted}
		require.NoError(t, sink.Archive(ctx, job))
		require.NoError(t, sink.Archive(ctx, job))

		ids, err := sink.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"dodo"}, ids)
	})

	t.Run("ListIsOrdered", func(t *testing.T) {
		sink, teardown := setup()
		defer teardown()
		ctx := context.Background()

		for _, id := range []string{"zebra-finch", "avocet", "dodo"} {
			require.NoError(t, sink.Archive(ctx, &domain.Job{ID: id, Name: id, Status: domain.JobStatusCompleted}))
		}

		ids, err := sink.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"avocet", "dodo", "zebra-finch"}, ids)
	})
}

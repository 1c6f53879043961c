// Package kvtest provides a compliance suite that every kv.Store
// implementation must pass.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/fieldguide/internal/storage/kv"
)

// RunStoreComplianceTest runs a standard set of tests against a kv.Store
// implementation. setup returns a fresh (clean) store for the test; the
// returned cleanup is called after each subtest.
func RunStoreComplianceTest(t *testing.T, setup func() (kv.Store, func())) {
	t.Run("PutAndGet", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "jobs", "brown-pelican", []byte(`{"id":"brown-pelican"}`)))

		value, err := store.Get(ctx, "jobs", "brown-pelican")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"brown-pelican"}`, string(value))
	})

	t.Run("GetMissingKey", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		_, err := store.Get(context.Background(), "jobs", "missing")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "jobs", "k", []byte("one")))
		require.NoError(t, store.Put(ctx, "jobs", "k", []byte("two")))

		value, err := store.Get(ctx, "jobs", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), value)
	})

	t.Run("Delete", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "jobs", "k", []byte("v")))
		require.NoError(t, store.Delete(ctx, "jobs", "k"))

		_, err := store.Get(ctx, "jobs", "k")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)

		// Deleting a missing key is not an error.
		assert.NoError(t, store.Delete(ctx, "jobs", "k"))
	})

	t.Run("TablesAreIsolated", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "jobs", "k", []byte("job")))
		require.NoError(t, store.Put(ctx, "events", "k", []byte("event")))

		value, err := store.Get(ctx, "jobs", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("job"), value)

		require.NoError(t, store.Delete(ctx, "jobs", "k"))

		value, err = store.Get(ctx, "events", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("event"), value)
	})

	t.Run("ScanOrdersByKey", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		// Inserted out of order on purpose.
		for _, key := range []string{"0000000000300-c", "0000000000100-a", "0000000000200-b"} {
			require.NoError(t, store.Put(ctx, "queue-index", key, []byte(key)))
		}

		entries, err := store.Scan(ctx, "queue-index", "", 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "0000000000100-a", entries[0].Key)
		assert.Equal(t, "0000000000200-b", entries[1].Key)
		assert.Equal(t, "0000000000300-c", entries[2].Key)
	})

	t.Run("ScanStartIsInclusive", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, store.Put(ctx, "t", key, []byte(key)))
		}

		entries, err := store.Scan(ctx, "t", "b", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[0].Key)
		assert.Equal(t, "c", entries[1].Key)
	})

	t.Run("ScanHonorsLimit", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		for i := range 5 {
			key := fmt.Sprintf("k%d", i)
			require.NoError(t, store.Put(ctx, "t", key, []byte(key)))
		}

		entries, err := store.Scan(ctx, "t", "", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "k0", entries[0].Key)
		assert.Equal(t, "k1", entries[1].Key)
	})

	t.Run("ScanEmptyTable", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		entries, err := store.Scan(context.Background(), "empty", "", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("ApplySpansTables", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "queue-index", "stale", []byte("stale")))

		err := store.Apply(ctx,
			kv.Op{Kind: kv.OpPut, Table: "jobs", Key: "j1", Value: []byte("job")},
			kv.Op{Kind: kv.OpPut, Table: "queue-index", Key: "fresh", Value: []byte("j1")},
			kv.Op{Kind: kv.OpDelete, Table: "queue-index", Key: "stale"},
		)
		require.NoError(t, err)

		value, err := store.Get(ctx, "jobs", "j1")
		require.NoError(t, err)
		assert.Equal(t, []byte("job"), value)

		value, err = store.Get(ctx, "queue-index", "fresh")
		require.NoError(t, err)
		assert.Equal(t, []byte("j1"), value)

		_, err = store.Get(ctx, "queue-index", "stale")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound)
	})

	t.Run("ApplyEmptyGroup", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()

		assert.NoError(t, store.Apply(context.Background()))
	})

	t.Run("ApplyPutAbsent", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		err := store.Apply(ctx,
			kv.Op{Kind: kv.OpPutAbsent, Table: "jobs", Key: "j1", Value: []byte("first")},
		)
		require.NoError(t, err)

		// A second conditional create must abort the whole group.
		err = store.Apply(ctx,
			kv.Op{Kind: kv.OpPutAbsent, Table: "jobs", Key: "j1", Value: []byte("second")},
			kv.Op{Kind: kv.OpPut, Table: "queue-index", Key: "idx-j1", Value: []byte("j1")},
		)
		require.ErrorIs(t, err, kv.ErrConflict)

		value, err := store.Get(ctx, "jobs", "j1")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), value)

		_, err = store.Get(ctx, "queue-index", "idx-j1")
		assert.ErrorIs(t, err, kv.ErrKeyNotFound, "conflicting group must not commit partially")
	})

	t.Run("ApplyDeleteExisting", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "queue-index", "head", []byte("j1")))

		err := store.Apply(ctx,
			kv.Op{Kind: kv.OpDeleteExisting, Table: "queue-index", Key: "head"},
			kv.Op{Kind: kv.OpPut, Table: "jobs", Key: "j1", Value: []byte("claimed")},
		)
		require.NoError(t, err)

		// The same delete again: record is gone, the rival loses.
		err = store.Apply(ctx,
			kv.Op{Kind: kv.OpDeleteExisting, Table: "queue-index", Key: "head"},
			kv.Op{Kind: kv.OpPut, Table: "jobs", Key: "j1", Value: []byte("claimed twice")},
		)
		require.ErrorIs(t, err, kv.ErrConflict)

		value, err := store.Get(ctx, "jobs", "j1")
		require.NoError(t, err)
		assert.Equal(t, []byte("claimed"), value, "losing group must not overwrite")
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("w%d", i)
				errs[i] = store.Apply(ctx,
					kv.Op{Kind: kv.OpPut, Table: "jobs", Key: key, Value: []byte(key)},
					kv.Op{Kind: kv.OpPut, Table: "queue-index", Key: key, Value: []byte(key)},
				)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "writer %d", i)
		}

		entries, err := store.Scan(ctx, "jobs", "", 0)
		require.NoError(t, err)
		assert.Len(t, entries, writers)
	})
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/fieldguide/internal/storage/kv"
	"github.com/rezkam/fieldguide/internal/storage/kv/kvtest"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	kvtest.RunStoreComplianceTest(t, func() (kv.Store, func()) {
		path := filepath.Join(t.TempDir(), "store.db")

		store, err := Open(path)
		require.NoError(t, err)

		cleanup := func() {
			store.Close()
		}

		return store, cleanup
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "jobs", "brown-pelican", []byte("v1")))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get(ctx, "jobs", "brown-pelican")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestSQLiteStore_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "store.db")

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), "jobs", "k", []byte("v")))
}

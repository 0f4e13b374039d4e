package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lib.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, Save(ctx, s, "users", []Record{rec(t, "alice", map[string]string{"name": "Alice"})}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := Load(ctx, reopened, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, keys(got))
}

func TestSQLiteStoreUnknownCollectionIsEmpty(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	got, err := Load(context.Background(), s, "favorites")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStoreCollectionsAreIsolated(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, Save(ctx, s, "books", []Record{rec(t, "1", "book")}))
	require.NoError(t, Save(ctx, s, "borrows", []Record{rec(t, "1", "loan")}))
	require.NoError(t, Save(ctx, s, "borrows", nil))

	books, err := Load(ctx, s, "books")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, keys(books))
}

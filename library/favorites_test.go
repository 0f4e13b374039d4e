package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFavoritesAdd(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	signup(t, mgr, "alice", "11111111")
	alice := login(t, mgr, "alice")
	favs := mgr.Favorites()

	assert.ErrorIs(t, favs.Add(ctx, alice, "999"), ErrNotFound)

	require.NoError(t, favs.Add(ctx, alice, "111"))
	list, err := favs.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, favs.Add(ctx, alice, "111"))
	list, err = favs.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err := favs.Contains(ctx, alice, "111")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFavoritesRemove(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	signup(t, mgr, "alice", "11111111")
	alice := login(t, mgr, "alice")
	favs := mgr.Favorites()

	require.NoError(t, favs.Remove(ctx, alice, "111"))
	require.NoError(t, favs.Add(ctx, alice, "111"))
	require.NoError(t, favs.Remove(ctx, alice, "111"))

	ok, err := favs.Contains(ctx, alice, "111")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFavoritesAreScopedPerUser(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	addBook(t, mgr, "222", "Two")
	signup(t, mgr, "alice", "11111111")
	signup(t, mgr, "bob", "22222222")
	alice, bob := login(t, mgr, "alice"), login(t, mgr, "bob")
	favs := mgr.Favorites()

	require.NoError(t, favs.Add(ctx, alice, "222"))
	require.NoError(t, favs.Add(ctx, alice, "111"))
	require.NoError(t, favs.Add(ctx, bob, "111"))
	require.NoError(t, favs.Remove(ctx, bob, "111"))

	list, err := favs.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "222", list[0].ISBN)
	assert.Equal(t, "111", list[1].ISBN)

	list, err = favs.List(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFavoritesSkipDeletedBooks(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	addBook(t, mgr, "222", "Two")
	signup(t, mgr, "alice", "11111111")
	alice := login(t, mgr, "alice")
	favs := mgr.Favorites()

	require.NoError(t, favs.Add(ctx, alice, "111"))
	require.NoError(t, favs.Add(ctx, alice, "222"))
	require.NoError(t, mgr.Catalog().DeleteBook(ctx, "111"))

	list, err := favs.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "222", list[0].ISBN)

	// The stale entry stays in storage.
	ok, err := favs.Contains(ctx, alice, "111")
	require.NoError(t, err)
	assert.True(t, ok)
}

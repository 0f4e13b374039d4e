package library

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"elibrary/store"
)

// Favorites keeps each user's bookmarked books. Entries are keyed by
// username/isbn and are not removed when the book leaves the catalog.
type Favorites struct {
	store store.Store
	log   logrus.FieldLogger
}

// Add bookmarks isbn for the session's user. Adding twice is a no-op.
func (f *Favorites) Add(ctx context.Context, sess Session, isbn string) error {
	entry := FavoriteEntry{Username: sess.Username, ISBN: isbn}
	added := false
	err := f.store.Update(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		if findBook(books, isbn) < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}
		favs, err := loadFavorites(tx)
		if err != nil {
			return err
		}
		if indexFavorite(favs, entry) >= 0 {
			return nil
		}
		added = true
		return saveFavorites(tx, append(favs, entry))
	})
	if err != nil {
		return err
	}
	if added {
		f.log.WithFields(logrus.Fields{"op": "favorite", "username": sess.Username, "isbn": isbn}).Debug("favorite added")
	}
	return nil
}

// Remove drops the bookmark if present.
func (f *Favorites) Remove(ctx context.Context, sess Session, isbn string) error {
	entry := FavoriteEntry{Username: sess.Username, ISBN: isbn}
	return f.store.Update(ctx, func(tx store.Tx) error {
		favs, err := loadFavorites(tx)
		if err != nil {
			return err
		}
		i := indexFavorite(favs, entry)
		if i < 0 {
			return nil
		}
		return saveFavorites(tx, append(favs[:i], favs[i+1:]...))
	})
}

// List returns the user's favorited books that are still in the catalog, in
// the order they were favorited.
func (f *Favorites) List(ctx context.Context, sess Session) ([]Book, error) {
	out := []Book{}
	err := f.store.View(ctx, func(tx store.Tx) error {
		favs, err := loadFavorites(tx)
		if err != nil {
			return err
		}
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		for _, fav := range favs {
			if fav.Username != sess.Username {
				continue
			}
			if i := findBook(books, fav.ISBN); i >= 0 {
				out = append(out, books[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Contains reports whether the user has bookmarked isbn.
func (f *Favorites) Contains(ctx context.Context, sess Session, isbn string) (bool, error) {
	var found bool
	err := f.store.View(ctx, func(tx store.Tx) error {
		favs, err := loadFavorites(tx)
		if err != nil {
			return err
		}
		found = indexFavorite(favs, FavoriteEntry{Username: sess.Username, ISBN: isbn}) >= 0
		return nil
	})
	return found, err
}

func indexFavorite(favs []FavoriteEntry, e FavoriteEntry) int {
	for i, f := range favs {
		if f == e {
			return i
		}
	}
	return -1
}

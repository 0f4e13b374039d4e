package library

import (
	"elibrary/store"
)

const (
	booksCollection     = "books"
	usersCollection     = "users"
	borrowsCollection   = "borrows"
	favoritesCollection = "favorites"
)

// Collections lists every collection the services use.
var Collections = []string{booksCollection, usersCollection, borrowsCollection, favoritesCollection}

func bookKey(b Book) string              { return b.ISBN }
func userKey(u User) string              { return u.Username }
func borrowKey(r BorrowRecord) string    { return r.ISBN }
func favoriteKey(f FavoriteEntry) string { return f.Username + "/" + f.ISBN }

func loadAll[T any](tx store.Tx, collection string) ([]T, error) {
	records, err := tx.Load(collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := store.Decode(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func saveAll[T any](tx store.Tx, collection string, items []T, key func(T) string) error {
	records := make([]store.Record, 0, len(items))
	for _, it := range items {
		r, err := store.Encode(key(it), it)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	return tx.Save(collection, records)
}

func loadBooks(tx store.Tx) ([]Book, error) { return loadAll[Book](tx, booksCollection) }
func saveBooks(tx store.Tx, books []Book) error {
	return saveAll(tx, booksCollection, books, bookKey)
}

func loadUsers(tx store.Tx) ([]User, error) { return loadAll[User](tx, usersCollection) }
func saveUsers(tx store.Tx, users []User) error {
	return saveAll(tx, usersCollection, users, userKey)
}

func loadBorrows(tx store.Tx) ([]BorrowRecord, error) {
	return loadAll[BorrowRecord](tx, borrowsCollection)
}
func saveBorrows(tx store.Tx, borrows []BorrowRecord) error {
	return saveAll(tx, borrowsCollection, borrows, borrowKey)
}

func loadFavorites(tx store.Tx) ([]FavoriteEntry, error) {
	return loadAll[FavoriteEntry](tx, favoritesCollection)
}
func saveFavorites(tx store.Tx, favs []FavoriteEntry) error {
	return saveAll(tx, favoritesCollection, favs, favoriteKey)
}

func findBook(books []Book, isbn string) int {
	for i, b := range books {
		if b.ISBN == isbn {
			return i
		}
	}
	return -1
}

func findUser(users []User, username string) int {
	for i, u := range users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

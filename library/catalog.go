package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"elibrary/store"
)

// Catalog owns Book entities.
type Catalog struct {
	store store.Store
	clock Clock
	log   logrus.FieldLogger
}

// AddBook validates the candidate and appends it as available, dated today.
func (c *Catalog) AddBook(ctx context.Context, candidate BookFields) (Book, error) {
	f := normalizeBookFields(candidate)
	if err := validateBookFields(f); err != nil {
		return Book{}, err
	}

	book := Book{
		ISBN:      f.ISBN,
		Title:     f.Title,
		Author:    f.Author,
		Genre:     f.Genre,
		Available: true,
		DateAdded: DateOf(c.clock.Now()),
	}

	err := c.store.Update(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		if findBook(books, book.ISBN) >= 0 {
			return fmt.Errorf("%w: a book with isbn %s", ErrDuplicate, book.ISBN)
		}
		return saveBooks(tx, append(books, book))
	})
	if err != nil {
		return Book{}, err
	}

	c.log.WithFields(logrus.Fields{"op": "add_book", "isbn": book.ISBN}).Info("book added")
	return book, nil
}

// UpdateBook overwrites the editable fields of the book at isbn, keeping its
// availability and date added.
func (c *Catalog) UpdateBook(ctx context.Context, isbn string, fields BookFields) (Book, error) {
	f := normalizeBookFields(fields)
	if err := validateBookFields(f); err != nil {
		return Book{}, err
	}

	var updated Book
	err := c.store.Update(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		i := findBook(books, isbn)
		if i < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}
		if f.ISBN != isbn {
			if findBook(books, f.ISBN) >= 0 {
				return fmt.Errorf("%w: a book with isbn %s", ErrDuplicate, f.ISBN)
			}
			// The loan record references the old isbn.
			if !books[i].Available {
				return fmt.Errorf("%w: cannot change the isbn of a borrowed book", ErrConflict)
			}
		}

		updated = Book{
			ISBN:      f.ISBN,
			Title:     f.Title,
			Author:    f.Author,
			Genre:     f.Genre,
			Available: books[i].Available,
			DateAdded: books[i].DateAdded,
		}
		books[i] = updated
		return saveBooks(tx, books)
	})
	if err != nil {
		return Book{}, err
	}

	c.log.WithFields(logrus.Fields{"op": "update_book", "isbn": isbn, "new_isbn": updated.ISBN}).Info("book updated")
	return updated, nil
}

// DeleteBook removes an available book.
func (c *Catalog) DeleteBook(ctx context.Context, isbn string) error {
	err := c.store.Update(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		i := findBook(books, isbn)
		if i < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}
		if !books[i].Available {
			return fmt.Errorf("%w: book currently borrowed", ErrConflict)
		}
		return saveBooks(tx, append(books[:i], books[i+1:]...))
	})
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"op": "delete_book", "isbn": isbn}).Info("book deleted")
	return nil
}

// Get returns the book with the given isbn.
func (c *Catalog) Get(ctx context.Context, isbn string) (Book, error) {
	var book Book
	err := c.store.View(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		i := findBook(books, isbn)
		if i < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}
		book = books[i]
		return nil
	})
	return book, err
}

// List returns all books sorted by title, case-insensitively.
func (c *Catalog) List(ctx context.Context) ([]Book, error) {
	books, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool {
		return strings.ToLower(books[i].Title) < strings.ToLower(books[j].Title)
	})
	return books, nil
}

// Search returns books whose title, author, isbn or genre contains query,
// ignoring case, in stored order. An empty query matches every book.
func (c *Catalog) Search(ctx context.Context, query string) ([]Book, error) {
	books, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return books, nil
	}

	results := []Book{}
	for _, b := range books {
		if matchesBook(b, q) {
			results = append(results, b)
		}
	}
	return results, nil
}

func matchesBook(b Book, q string) bool {
	for _, field := range []string{b.Title, b.Author, b.ISBN, b.Genre} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (c *Catalog) all(ctx context.Context) ([]Book, error) {
	var books []Book
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		books, err = loadBooks(tx)
		return err
	})
	return books, err
}

package library

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"elibrary/store"
)

// Circulation owns BorrowRecords. A book moves Available -> Borrowed ->
// Available; overdue is derived from the due date, not stored.
//
// Borrow and Return change the books and borrows collections inside a single
// store Update. Updates are serialized by the store, so the availability
// check, the loan-count check and both writes form one unit: two concurrent
// borrows of the same isbn cannot both succeed, and a user cannot exceed
// maxLoans by racing borrows.
type Circulation struct {
	store      store.Store
	clock      Clock
	log        logrus.FieldLogger
	maxLoans   int
	loanPeriod int // days
}

// MaxLoans is the per-user cap on active loans.
func (c *Circulation) MaxLoans() int { return c.maxLoans }

func authorize(sess Session, username string) error {
	if sess.IsAdmin() || sess.Username == username {
		return nil
	}
	return fmt.Errorf("%w: %s cannot act for %s", ErrForbidden, sess.Username, username)
}

// Borrow lends the book to username, due loanPeriod days from today.
func (c *Circulation) Borrow(ctx context.Context, sess Session, isbn, username string) (BorrowRecord, error) {
	if err := authorize(sess, username); err != nil {
		return BorrowRecord{}, err
	}

	today := DateOf(c.clock.Now())
	record := BorrowRecord{
		ISBN:       isbn,
		Username:   username,
		BorrowDate: today,
		DueDate:    today.AddDays(c.loanPeriod),
	}

	err := c.store.Update(ctx, func(tx store.Tx) error {
		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		i := findBook(books, isbn)
		if i < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}

		users, err := loadUsers(tx)
		if err != nil {
			return err
		}
		if findUser(users, username) < 0 {
			return fmt.Errorf("%w: user %s", ErrNotFound, username)
		}

		if !books[i].Available {
			return fmt.Errorf("%w: %s", ErrUnavailable, books[i].Title)
		}

		borrows, err := loadBorrows(tx)
		if err != nil {
			return err
		}
		if n := countFor(borrows, username); n >= c.maxLoans {
			return fmt.Errorf("%w: %s already has %d/%d books", ErrLoanLimitExceeded, username, n, c.maxLoans)
		}

		books[i].Available = false
		if err := saveBooks(tx, books); err != nil {
			return err
		}
		return saveBorrows(tx, append(borrows, record))
	})
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"op": "borrow", "isbn": isbn, "username": username}).
			Debug("borrow rejected")
		return BorrowRecord{}, err
	}

	c.log.WithFields(logrus.Fields{
		"op":       "borrow",
		"isbn":     isbn,
		"username": username,
		"due_date": record.DueDate.String(),
		"session":  sess.ID,
	}).Info("book borrowed")
	return record, nil
}

// Return ends the loan of isbn held by username and makes the book available.
func (c *Circulation) Return(ctx context.Context, sess Session, isbn, username string) error {
	if err := authorize(sess, username); err != nil {
		return err
	}

	err := c.store.Update(ctx, func(tx store.Tx) error {
		borrows, err := loadBorrows(tx)
		if err != nil {
			return err
		}
		j := -1
		for k, r := range borrows {
			if r.ISBN == isbn && r.Username == username {
				j = k
				break
			}
		}
		if j < 0 {
			return fmt.Errorf("%w: no loan of %s by %s", ErrNotFound, isbn, username)
		}

		books, err := loadBooks(tx)
		if err != nil {
			return err
		}
		i := findBook(books, isbn)
		if i < 0 {
			return fmt.Errorf("%w: book %s", ErrNotFound, isbn)
		}

		books[i].Available = true
		if err := saveBooks(tx, books); err != nil {
			return err
		}
		return saveBorrows(tx, append(borrows[:j], borrows[j+1:]...))
	})
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"op": "return", "isbn": isbn, "username": username, "session": sess.ID}).
		Info("book returned")
	return nil
}

// IsOverdue reports whether the due date is strictly before the date of asOf.
func (c *Circulation) IsOverdue(record BorrowRecord, asOf time.Time) bool {
	return IsOverdue(record, asOf)
}

// IsOverdue reports whether the due date is strictly before the date of asOf.
func IsOverdue(record BorrowRecord, asOf time.Time) bool {
	return record.DueDate.Before(DateOf(asOf))
}

// LoanCountFor returns the number of active loans held by username.
func (c *Circulation) LoanCountFor(ctx context.Context, username string) (int, error) {
	var n int
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = c.countIn(tx, username)
		return err
	})
	return n, err
}

// Remaining returns how many more books username may borrow.
func (c *Circulation) Remaining(ctx context.Context, username string) (int, error) {
	n, err := c.LoanCountFor(ctx, username)
	if err != nil {
		return 0, err
	}
	if n >= c.maxLoans {
		return 0, nil
	}
	return c.maxLoans - n, nil
}

// LoansFor returns the active loans of username in borrow order.
func (c *Circulation) LoansFor(ctx context.Context, username string) ([]LoanView, error) {
	views, err := c.ActiveLoans(ctx)
	if err != nil {
		return nil, err
	}
	out := []LoanView{}
	for _, v := range views {
		if v.Record.Username == username {
			out = append(out, v)
		}
	}
	return out, nil
}

// ActiveLoans returns every active loan joined with its book title and
// borrower name. Dangling references render as "Unknown" and the username.
func (c *Circulation) ActiveLoans(ctx context.Context) ([]LoanView, error) {
	var (
		borrows []BorrowRecord
		books   []Book
		users   []User
	)
	err := c.store.View(ctx, func(tx store.Tx) error {
		var err error
		if borrows, err = loadBorrows(tx); err != nil {
			return err
		}
		if books, err = loadBooks(tx); err != nil {
			return err
		}
		users, err = loadUsers(tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	views := make([]LoanView, 0, len(borrows))
	for _, r := range borrows {
		v := LoanView{Record: r, Title: "Unknown", BorrowerName: r.Username, Overdue: IsOverdue(r, now)}
		if i := findBook(books, r.ISBN); i >= 0 {
			v.Title = books[i].Title
		}
		if i := findUser(users, r.Username); i >= 0 && users[i].Name != "" {
			v.BorrowerName = users[i].Name
		}
		views = append(views, v)
	}
	return views, nil
}

// Overdue returns the active loans that are overdue as of asOf.
func (c *Circulation) Overdue(ctx context.Context, asOf time.Time) ([]LoanView, error) {
	views, err := c.ActiveLoans(ctx)
	if err != nil {
		return nil, err
	}
	out := []LoanView{}
	for _, v := range views {
		if IsOverdue(v.Record, asOf) {
			v.Overdue = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Circulation) countIn(tx store.Tx, username string) (int, error) {
	borrows, err := loadBorrows(tx)
	if err != nil {
		return 0, err
	}
	return countFor(borrows, username), nil
}

func countFor(borrows []BorrowRecord, username string) int {
	n := 0
	for _, r := range borrows {
		if r.Username == username {
			n++
		}
	}
	return n
}

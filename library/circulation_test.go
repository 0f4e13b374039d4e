package library

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"elibrary/store"
)

func TestBorrowDueDateAndOverdue(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	_, err := mgr.Catalog().AddBook(ctx, BookFields{ISBN: "12345678901", Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	signup(t, mgr, "alice", "12345678")

	record, err := mgr.Circulation().Borrow(ctx, login(t, mgr, "alice"), "12345678901", "alice")
	require.NoError(t, err)
	assert.Equal(t, DateOf(day0), record.BorrowDate)
	assert.Equal(t, DateOf(day0.AddDate(0, 0, 14)), record.DueDate)

	c := mgr.Circulation()
	assert.False(t, c.IsOverdue(record, day0.AddDate(0, 0, 14)))
	assert.False(t, c.IsOverdue(record, day0.AddDate(0, 0, 14).Add(14*time.Hour)))
	assert.True(t, c.IsOverdue(record, day0.AddDate(0, 0, 15)))

	book, err := mgr.Catalog().Get(ctx, "12345678901")
	require.NoError(t, err)
	assert.False(t, book.Available)

	clock.advance(15)
	overdue, err := c.Overdue(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "Dune", overdue[0].Title)
}

func TestLoanLimit(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		addBook(t, mgr, fmt.Sprint(i), fmt.Sprintf("Book %d", i))
	}
	signup(t, mgr, "bob", "87654321")
	bob := login(t, mgr, "bob")
	c := mgr.Circulation()

	for i := 1; i <= 3; i++ {
		_, err := c.Borrow(ctx, bob, fmt.Sprint(i), "bob")
		require.NoError(t, err)
	}
	remaining, err := c.Remaining(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = c.Borrow(ctx, bob, "4", "bob")
	assert.ErrorIs(t, err, ErrLoanLimitExceeded)
	book, err := mgr.Catalog().Get(ctx, "4")
	require.NoError(t, err)
	assert.True(t, book.Available)

	require.NoError(t, c.Return(ctx, bob, "2", "bob"))
	_, err = c.Borrow(ctx, bob, "4", "bob")
	require.NoError(t, err)

	n, err := c.LoanCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBorrowErrors(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	signup(t, mgr, "alice", "11111111")
	signup(t, mgr, "bob", "22222222")
	alice := login(t, mgr, "alice")
	admin := adminSession(t, mgr)
	c := mgr.Circulation()

	_, err := c.Borrow(ctx, alice, "999", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Borrow(ctx, admin, "111", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Borrow(ctx, alice, "111", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = c.Borrow(ctx, admin, "111", "bob")
	require.NoError(t, err)

	_, err = c.Borrow(ctx, alice, "111", "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReturnRoundTrip(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	addBook(t, mgr, "222", "Two")
	signup(t, mgr, "alice", "11111111")
	signup(t, mgr, "bob", "22222222")
	alice := login(t, mgr, "alice")
	c := mgr.Circulation()

	before, err := mgr.Catalog().List(ctx)
	require.NoError(t, err)
	usersBefore, err := mgr.Accounts().List(ctx)
	require.NoError(t, err)

	_, err = c.Borrow(ctx, alice, "111", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Return(ctx, login(t, mgr, "bob"), "111", "bob"), ErrNotFound)
	assert.ErrorIs(t, c.Return(ctx, alice, "222", "alice"), ErrNotFound)
	assert.ErrorIs(t, c.Return(ctx, alice, "111", "bob"), ErrForbidden)

	require.NoError(t, c.Return(ctx, alice, "111", "alice"))

	after, err := mgr.Catalog().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	usersAfter, err := mgr.Accounts().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, usersBefore, usersAfter)

	loans, err := c.ActiveLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestActiveLoansJoinTitleAndName(t *testing.T) {
	mgr, clock := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "One")
	addBook(t, mgr, "222", "Two")
	signup(t, mgr, "alice", "11111111")
	signup(t, mgr, "bob", "22222222")
	admin := adminSession(t, mgr)
	c := mgr.Circulation()

	_, err := c.Borrow(ctx, admin, "111", "alice")
	require.NoError(t, err)
	clock.advance(10)
	_, err = c.Borrow(ctx, admin, "222", "bob")
	require.NoError(t, err)
	clock.advance(5)

	loans, err := c.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "One", loans[0].Title)
	assert.Equal(t, "Name of alice", loans[0].BorrowerName)
	assert.True(t, loans[0].Overdue)
	assert.False(t, loans[1].Overdue)

	mine, err := c.LoansFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "222", mine[0].Record.ISBN)
}

func TestActiveLoansWithDanglingReferences(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	// A loan left behind by hand-edited data.
	err := mgr.store.Update(ctx, func(tx store.Tx) error {
		return saveBorrows(tx, []BorrowRecord{{ISBN: "404", Username: "ghost", BorrowDate: DateOf(day0), DueDate: DateOf(day0).AddDays(14)}})
	})
	require.NoError(t, err)

	loans, err := mgr.Circulation().ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Unknown", loans[0].Title)
	assert.Equal(t, "ghost", loans[0].BorrowerName)
}

// Every book is available exactly when no loan references it.
func assertAvailabilityMatchesLoans(t *testing.T, mgr *LibraryManager) {
	t.Helper()
	ctx := context.Background()
	books, err := mgr.Catalog().List(ctx)
	require.NoError(t, err)
	loans, err := mgr.Circulation().ActiveLoans(ctx)
	require.NoError(t, err)

	refs := map[string]int{}
	for _, l := range loans {
		refs[l.Record.ISBN]++
	}
	for _, b := range books {
		if b.Available {
			assert.Zero(t, refs[b.ISBN], b.ISBN)
		} else {
			assert.Equal(t, 1, refs[b.ISBN], b.ISBN)
		}
	}
}

func TestConcurrentBorrowsOfOneBook(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	addBook(t, mgr, "111", "Contested")
	admin := adminSession(t, mgr)

	const borrowers = 8
	for i := 0; i < borrowers; i++ {
		signup(t, mgr, fmt.Sprintf("user%d", i), fmt.Sprintf("1000000%d", i))
	}

	results := make([]error, borrowers)
	var g errgroup.Group
	for i := 0; i < borrowers; i++ {
		i := i
		g.Go(func() error {
			_, err := mgr.Circulation().Borrow(ctx, admin, "111", fmt.Sprintf("user%d", i))
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrUnavailable), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assertAvailabilityMatchesLoans(t, mgr)
}

func TestConcurrentBorrowsNeverExceedCap(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	const books = 10
	for i := 0; i < books; i++ {
		addBook(t, mgr, fmt.Sprint(500+i), fmt.Sprintf("Book %d", i))
	}
	signup(t, mgr, "bob", "87654321")
	bob := login(t, mgr, "bob")

	var g errgroup.Group
	for i := 0; i < books; i++ {
		i := i
		g.Go(func() error {
			_, err := mgr.Circulation().Borrow(ctx, bob, fmt.Sprint(500+i), "bob")
			if err != nil && !errors.Is(err, ErrLoanLimitExceeded) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	n, err := mgr.Circulation().LoanCountFor(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, mgr.Circulation().MaxLoans(), n)
	assertAvailabilityMatchesLoans(t, mgr)
}

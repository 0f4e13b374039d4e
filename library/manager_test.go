package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"elibrary/config"
	"elibrary/logger"
	"elibrary/store"
)

var day0 = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
}

func newManager(t *testing.T, opts ...Option) (*LibraryManager, *fakeClock) {
	t.Helper()
	st, err := store.OpenFileStore(t.TempDir(), store.WithCollections(Collections...))
	require.NoError(t, err)

	clock := &fakeClock{now: day0}
	base := []Option{
		WithClock(clock),
		WithLogger(logger.Discard()),
		WithHashCost(bcrypt.MinCost),
	}
	mgr, err := New(st, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, clock
}

func adminSession(t *testing.T, mgr *LibraryManager) Session {
	t.Helper()
	sess, err := mgr.Accounts().Authenticate(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	return sess
}

func addBook(t *testing.T, mgr *LibraryManager, isbn, title string) Book {
	t.Helper()
	b, err := mgr.Catalog().AddBook(context.Background(), BookFields{ISBN: isbn, Title: title, Author: "Author " + title, Genre: "Fiction"})
	require.NoError(t, err)
	return b
}

func signup(t *testing.T, mgr *LibraryManager, username, studentID string) User {
	t.Helper()
	u, err := mgr.Accounts().Signup(context.Background(), SignupRequest{
		Role:      RoleStudent,
		StudentID: studentID,
		Name:      "Name of " + username,
		Username:  username,
		Password:  "pw-" + username,
		Email:     username + "@example.com",
		Contact:   "09171234567",
		Address:   "1 Main St",
		Age:       "20",
	})
	require.NoError(t, err)
	return u
}

func login(t *testing.T, mgr *LibraryManager, username string) Session {
	t.Helper()
	sess, err := mgr.Accounts().Authenticate(context.Background(), username, "pw-"+username)
	require.NoError(t, err)
	return sess
}

func TestNewLibraryManagerFromConfig(t *testing.T) {
	backends := map[string]func(dir string) config.Config{
		"json": func(dir string) config.Config {
			cfg := config.Default()
			cfg.DataDir = dir
			return cfg
		},
		"sqlite": func(dir string) config.Config {
			cfg := config.Default()
			cfg.Backend = "sqlite"
			cfg.SQLitePath = filepath.Join(dir, "lib.db")
			return cfg
		},
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cfg := build(t.TempDir())
			cfg.Circulation.MaxActiveLoans = 1

			mgr, err := NewLibraryManager(ctx, cfg, logger.Discard())
			require.NoError(t, err)
			defer mgr.Close()

			_, err = mgr.Catalog().AddBook(ctx, BookFields{ISBN: "1", Title: "A", Author: "X"})
			require.NoError(t, err)
			_, err = mgr.Catalog().AddBook(ctx, BookFields{ISBN: "2", Title: "B", Author: "X"})
			require.NoError(t, err)

			admin, err := mgr.Accounts().Authenticate(ctx, "admin", "admin123")
			require.NoError(t, err)
			u, err := mgr.Accounts().Signup(ctx, SignupRequest{
				Role: RoleFaculty, StudentID: "faculty", Name: "Prof", Username: "prof", Password: "x",
				Email: "prof@uni.edu", Contact: "12345678901", Address: "Campus", Age: "50",
			})
			require.NoError(t, err)

			_, err = mgr.Circulation().Borrow(ctx, admin, "1", u.Username)
			require.NoError(t, err)
			_, err = mgr.Circulation().Borrow(ctx, admin, "2", u.Username)
			assert.ErrorIs(t, err, ErrLoanLimitExceeded)
		})
	}
}

func TestNewLibraryManagerUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "tape"
	_, err := NewLibraryManager(context.Background(), cfg, logger.Discard())
	assert.ErrorIs(t, err, store.ErrUnknownBackend)
}

func TestNewRejectsBadOptions(t *testing.T) {
	st, err := store.OpenFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = New(st, WithLoanRules(0, 14))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = New(st, WithHashCost(bcrypt.MaxCost+1))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = New(st, WithClock(nil))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPrettyHelpers(t *testing.T) {
	b := Book{ISBN: "123", Title: "A Very Long Title That Will Not Fit In The Column", Author: "Someone", Available: false}
	line := PrettyBook(b)
	assert.Contains(t, line, "Borrowed")
	assert.Contains(t, line, "...")

	due, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	loan := PrettyLoan(LoanView{Record: BorrowRecord{ISBN: "123", DueDate: due}, Title: "Dune", BorrowerName: "Alice", Overdue: true})
	assert.Contains(t, loan, "2024-03-15")
	assert.Contains(t, loan, "OVERDUE")

	u := PrettyUser(User{Username: "alice", PasswordHash: "$2a$secret"})
	assert.NotContains(t, u, "secret")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	title := "Collected Stories Volume: 村上春樹の短編小説集"
	line := PrettyBook(Book{ISBN: "1", Title: title, Author: "村上春樹", Available: true})
	assert.True(t, utf8.ValidString(line))
	assert.Contains(t, line, "...")

	assert.Equal(t, "村上春...", truncate("村上春樹の短編小説集", 6))
	assert.Equal(t, "村上", truncate("村上春樹", 2))
	assert.Equal(t, "村上春樹", truncate("村上春樹", 4))
}

package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"elibrary/config"
	"elibrary/store"
)

// LibraryManager is a thin façade wiring the services over one store, keeping
// CLI code simple.
type LibraryManager struct {
	store       store.Store
	catalog     *Catalog
	accounts    *Accounts
	circulation *Circulation
	favorites   *Favorites
}

// Option customizes a LibraryManager built with New.
type Option func(*managerSettings) error

type managerSettings struct {
	clock      Clock
	log        logrus.FieldLogger
	maxLoans   int
	loanPeriod int
	admins     []config.Admin
	hashCost   int
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *managerSettings) error {
		if c == nil {
			return fmt.Errorf("%w: nil clock", ErrValidation)
		}
		s.clock = c
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *managerSettings) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithLoanRules sets the active-loan cap and the loan period in days.
func WithLoanRules(maxLoans, periodDays int) Option {
	return func(s *managerSettings) error {
		if maxLoans <= 0 || periodDays <= 0 {
			return fmt.Errorf("%w: loan cap and period must be positive", ErrValidation)
		}
		s.maxLoans, s.loanPeriod = maxLoans, periodDays
		return nil
	}
}

// WithAdmins replaces the admin aliases.
func WithAdmins(admins ...config.Admin) Option {
	return func(s *managerSettings) error {
		s.admins = admins
		return nil
	}
}

// WithHashCost sets the bcrypt cost for stored passwords.
func WithHashCost(cost int) Option {
	return func(s *managerSettings) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("%w: bcrypt cost %d out of range", ErrValidation, cost)
		}
		s.hashCost = cost
		return nil
	}
}

// NewLibraryManager opens the configured store and wires the services.
func NewLibraryManager(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*LibraryManager, error) {
	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.Backend,
		Dir:         cfg.DataDir,
		SQLitePath:  cfg.SQLiteFile(),
		PostgresDSN: cfg.PostgresDSN,
		LenientLoad: cfg.LenientLoad,
		Collections: Collections,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	lm, err := New(st,
		WithLogger(log),
		WithLoanRules(cfg.Circulation.MaxActiveLoans, cfg.Circulation.LoanPeriodDays),
		WithAdmins(cfg.Admins...),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	return lm, nil
}

// New builds the services over an already opened store. The manager takes
// ownership of st and closes it in Close.
func New(st store.Store, opts ...Option) (*LibraryManager, error) {
	def := config.Default()
	s := managerSettings{
		clock:      SystemClock{},
		log:        logrus.StandardLogger(),
		maxLoans:   def.Circulation.MaxActiveLoans,
		loanPeriod: def.Circulation.LoanPeriodDays,
		admins:     def.Admins,
		hashCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}

	admins, err := newAdminAliases(s.admins, s.hashCost)
	if err != nil {
		return nil, err
	}

	circulation := &Circulation{
		store:      st,
		clock:      s.clock,
		log:        s.log.WithField("service", "circulation"),
		maxLoans:   s.maxLoans,
		loanPeriod: s.loanPeriod,
	}
	return &LibraryManager{
		store:       st,
		circulation: circulation,
		catalog: &Catalog{
			store: st,
			clock: s.clock,
			log:   s.log.WithField("service", "catalog"),
		},
		accounts: &Accounts{
			store:    st,
			clock:    s.clock,
			log:      s.log.WithField("service", "accounts"),
			loans:    circulation,
			admins:   admins,
			hashCost: s.hashCost,
		},
		favorites: &Favorites{
			store: st,
			log:   s.log.WithField("service", "favorites"),
		},
	}, nil
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

func (lm *LibraryManager) Catalog() *Catalog         { return lm.catalog }
func (lm *LibraryManager) Accounts() *Accounts       { return lm.accounts }
func (lm *LibraryManager) Circulation() *Circulation { return lm.circulation }
func (lm *LibraryManager) Favorites() *Favorites     { return lm.favorites }

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b Book) string {
	status := "Available"
	if !b.Available {
		status = "Borrowed"
	}
	return fmt.Sprintf("%-14s %-30s %-22s %-12s %-10s", b.ISBN, truncate(b.Title, 30), truncate(b.Author, 22), truncate(b.Genre, 12), status)
}

// PrettyLoan formats an active loan for lists.
func PrettyLoan(v LoanView) string {
	line := fmt.Sprintf("%-14s %-30s %-20s %s", v.Record.ISBN, truncate(v.Title, 30), truncate(v.BorrowerName, 20), v.Record.DueDate)
	if v.Overdue {
		line += "  OVERDUE"
	}
	return line
}

// PrettyUser formats a user for lists. The password hash is never shown.
func PrettyUser(u User) string {
	return fmt.Sprintf("%-16s %-8s %-10s %-24s %s", u.Username, u.Role, u.StudentID, truncate(u.Name, 24), u.Email)
}

func truncate(s string, maxLen int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= maxLen {
		return string(r)
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

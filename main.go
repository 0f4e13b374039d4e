package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"elibrary/config"
	"elibrary/library"
	"elibrary/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		backend    string
		lenient    bool
	)

	cmd := &cobra.Command{
		Use:           "elibrary",
		Short:         "Library circulation and catalog shell",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend = backend
			}
			if cmd.Flags().Changed("lenient") {
				cfg.LenientLoad = lenient
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}

			mgr, err := library.NewLibraryManager(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			log.WithFields(logrus.Fields{"backend": cfg.Backend, "lenient": cfg.LenientLoad}).Debug("store opened")
			sh := &shell{
				ctx:    cmd.Context(),
				mgr:    mgr,
				sc:     bufio.NewScanner(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
				masked: term.IsTerminal(int(syscall.Stdin)),
			}
			sh.run()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the json backend")
	cmd.Flags().StringVar(&backend, "backend", "", "store backend: json, sqlite or postgres")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "treat missing or corrupt documents as empty (json backend only)")
	return cmd
}

// shell is the interactive prompt. It holds the one session of this process.
type shell struct {
	ctx    context.Context
	mgr    *library.LibraryManager
	sc     *bufio.Scanner
	out    io.Writer
	masked bool // read passwords from the terminal without echo
	sess   *library.Session
}

type command struct {
	admin  bool // requires an admin session
	member bool // requires any session
	run    func(*shell)
}

var commands = map[string]command{
	"login":          {run: (*shell).handleLogin},
	"logout":         {member: true, run: (*shell).handleLogout},
	"signup":         {run: (*shell).handleSignup},
	"list books":     {run: (*shell).handleListBooks},
	"search book":    {run: (*shell).handleSearchBooks},
	"add book":       {admin: true, run: (*shell).handleAddBook},
	"update book":    {admin: true, run: (*shell).handleUpdateBook},
	"delete book":    {admin: true, run: (*shell).handleDeleteBook},
	"list users":     {admin: true, run: (*shell).handleListUsers},
	"search users":   {admin: true, run: (*shell).handleSearchUsers},
	"delete user":    {admin: true, run: (*shell).handleDeleteUser},
	"loans":          {admin: true, run: (*shell).handleLoans},
	"overdue":        {admin: true, run: (*shell).handleOverdue},
	"borrow":         {member: true, run: (*shell).handleBorrow},
	"return":         {member: true, run: (*shell).handleReturn},
	"my loans":       {member: true, run: (*shell).handleMyLoans},
	"favorite":       {member: true, run: (*shell).handleFavorite},
	"unfavorite":     {member: true, run: (*shell).handleUnfavorite},
	"favorites":      {member: true, run: (*shell).handleFavorites},
	"account":        {member: true, run: (*shell).handleAccount},
	"reset password": {admin: true, run: (*shell).handleResetPassword},
}

func (s *shell) printf(format string, args ...any) { fmt.Fprintf(s.out, format, args...) }
func (s *shell) println(args ...any)               { fmt.Fprintln(s.out, args...) }

func (s *shell) run() {
	s.println("Welcome to the e-library!")
	s.println("Available commands:")
	s.println("  Account: login, logout, signup, account")
	s.println("  Books: list books, search book, add book, update book, delete book")
	s.println("  Users: list users, search users, delete user, reset password")
	s.println("  Circulation: borrow, return, my loans, loans, overdue")
	s.println("  Favorites: favorite, unfavorite, favorites")
	s.println("  System: exit")

	for {
		if s.ctx.Err() != nil {
			return
		}
		s.printf("\n%s> ", s.prompt())
		if !s.sc.Scan() {
			return
		}
		input := strings.ToLower(strings.TrimSpace(s.sc.Text()))
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			s.println("Goodbye!")
			return
		}

		cmd, ok := commands[input]
		switch {
		case !ok:
			s.println("Unknown command. Type one of the available commands listed above.")
		case cmd.admin && (s.sess == nil || !s.sess.IsAdmin()):
			s.println("That command needs an admin login.")
		case cmd.member && s.sess == nil:
			s.println("Please log in first.")
		default:
			cmd.run(s)
		}
	}
}

func (s *shell) prompt() string {
	if s.sess == nil {
		return ""
	}
	return s.sess.Username
}

func (s *shell) ask(label string) (string, bool) {
	s.printf("%s: ", label)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

// readPassword securely reads a password with masking. Input that is not a
// terminal is read as a plain line.
func (s *shell) readPassword(prompt string) (string, error) {
	s.printf("%s", prompt)
	if !s.masked {
		if !s.sc.Scan() {
			return "", io.EOF
		}
		return strings.TrimSpace(s.sc.Text()), nil
	}
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	s.println()
	return strings.TrimSpace(string(bytePassword)), nil
}

// report prints err as a user-facing message.
func (s *shell) report(err error) {
	switch {
	case errors.Is(err, library.ErrStoreIO):
		s.printf("Storage error: %v\n", err)
	case errors.Is(err, context.Canceled):
		s.println("Canceled.")
	default:
		s.printf("Error: %v\n", err)
	}
}

// ------------------ Account ------------------

func (s *shell) handleLogin() {
	if s.sess != nil {
		s.printf("Already logged in as %s. Log out first.\n", s.sess.Username)
		return
	}
	username, ok := s.ask("Username")
	if !ok {
		return
	}
	password, err := s.readPassword("Password: ")
	if err != nil {
		s.printf("Error reading password: %v\n", err)
		return
	}
	sess, err := s.mgr.Accounts().Authenticate(s.ctx, username, password)
	if err != nil {
		s.report(err)
		return
	}
	s.sess = &sess
	s.printf("Logged in as %s (%s).\n", sess.Username, sess.Role)
}

func (s *shell) handleLogout() {
	s.printf("Goodbye, %s.\n", s.sess.Username)
	s.sess = nil
}

func (s *shell) handleSignup() {
	var req library.SignupRequest
	role, ok := s.ask("Role (Student/Faculty)")
	if !ok {
		return
	}
	switch strings.ToLower(role) {
	case "student":
		req.Role = library.RoleStudent
	case "faculty":
		req.Role = library.RoleFaculty
	default:
		req.Role = library.Role(role)
	}

	fields := []struct {
		label string
		dst   *string
	}{
		{"Student ID (8 digits, or Faculty)", &req.StudentID},
		{"Full name", &req.Name},
		{"Username", &req.Username},
	}
	for _, f := range fields {
		if *f.dst, ok = s.ask(f.label); !ok {
			return
		}
	}
	password, err := s.readPassword("Password: ")
	if err != nil {
		s.printf("Error reading password: %v\n", err)
		return
	}
	req.Password = password

	fields = []struct {
		label string
		dst   *string
	}{
		{"Email", &req.Email},
		{"Contact number (11 digits)", &req.Contact},
		{"Address", &req.Address},
		{"Age", &req.Age},
	}
	for _, f := range fields {
		if *f.dst, ok = s.ask(f.label); !ok {
			return
		}
	}

	user, err := s.mgr.Accounts().Signup(s.ctx, req)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Account %s created. You can now log in.\n", user.Username)
}

func (s *shell) handleAccount() {
	if s.sess.IsAdmin() {
		s.printf("%s (Admin), session %s\n", s.sess.Username, s.sess.ID)
		return
	}
	user, err := s.mgr.Accounts().Get(s.ctx, s.sess.Username)
	if err != nil {
		s.report(err)
		return
	}
	count, err := s.mgr.Circulation().LoanCountFor(s.ctx, user.Username)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Username: %s\nName:     %s\nRole:     %s\nID:       %s\nEmail:    %s\nContact:  %s\nLoans:    %d/%d\n",
		user.Username, user.Name, user.Role, user.StudentID, user.Email, user.Contact, count, s.mgr.Circulation().MaxLoans())
}

// ------------------ Books ------------------

func (s *shell) printBooks(books []library.Book) {
	s.printf("%-14s %-30s %-22s %-12s %-10s\n", "ISBN", "Title", "Author", "Genre", "Status")
	s.println(strings.Repeat("-", 92))
	for _, b := range books {
		s.println(library.PrettyBook(b))
	}
}

func (s *shell) handleListBooks() {
	books, err := s.mgr.Catalog().List(s.ctx)
	if err != nil {
		s.report(err)
		return
	}
	if len(books) == 0 {
		s.println("No books in library.")
		return
	}
	s.printBooks(books)
}

func (s *shell) handleSearchBooks() {
	query, ok := s.ask("Query")
	if !ok {
		return
	}
	books, err := s.mgr.Catalog().Search(s.ctx, query)
	if err != nil {
		s.report(err)
		return
	}
	if len(books) == 0 {
		s.printf("No books found matching '%s'.\n", query)
		return
	}
	s.printf("Found %d book(s) matching '%s':\n", len(books), query)
	s.printBooks(books)
}

func (s *shell) askBookFields() (library.BookFields, bool) {
	var f library.BookFields
	var ok bool
	if f.ISBN, ok = s.ask("ISBN"); !ok {
		return f, false
	}
	if f.Title, ok = s.ask("Title"); !ok {
		return f, false
	}
	if f.Author, ok = s.ask("Author"); !ok {
		return f, false
	}
	f.Genre, ok = s.ask("Genre")
	return f, ok
}

func (s *shell) handleAddBook() {
	f, ok := s.askBookFields()
	if !ok {
		return
	}
	book, err := s.mgr.Catalog().AddBook(s.ctx, f)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Added '%s' (ISBN %s).\n", book.Title, book.ISBN)
}

func (s *shell) handleUpdateBook() {
	isbn, ok := s.ask("ISBN of the book to update")
	if !ok {
		return
	}
	current, err := s.mgr.Catalog().Get(s.ctx, isbn)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Current: %s\nEnter the new values.\n", library.PrettyBook(current))
	f, ok := s.askBookFields()
	if !ok {
		return
	}
	book, err := s.mgr.Catalog().UpdateBook(s.ctx, isbn, f)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Updated '%s' (ISBN %s).\n", book.Title, book.ISBN)
}

func (s *shell) handleDeleteBook() {
	isbn, ok := s.ask("ISBN")
	if !ok {
		return
	}
	if err := s.mgr.Catalog().DeleteBook(s.ctx, isbn); err != nil {
		s.report(err)
		return
	}
	s.printf("Deleted book %s.\n", isbn)
}

// ------------------ Users ------------------

func (s *shell) printUsers(users []library.User) {
	if len(users) == 0 {
		s.println("No users found.")
		return
	}
	s.printf("%-16s %-8s %-10s %-24s %s\n", "Username", "Role", "ID", "Name", "Email")
	s.println(strings.Repeat("-", 85))
	for _, u := range users {
		s.println(library.PrettyUser(u))
	}
}

func (s *shell) handleListUsers() {
	users, err := s.mgr.Accounts().List(s.ctx)
	if err != nil {
		s.report(err)
		return
	}
	s.printUsers(users)
}

func (s *shell) handleSearchUsers() {
	query, ok := s.ask("Query")
	if !ok {
		return
	}
	users, err := s.mgr.Accounts().Search(s.ctx, query)
	if err != nil {
		s.report(err)
		return
	}
	s.printUsers(users)
}

func (s *shell) handleDeleteUser() {
	username, ok := s.ask("Username")
	if !ok {
		return
	}
	if err := s.mgr.Accounts().DeleteUser(s.ctx, username); err != nil {
		s.report(err)
		return
	}
	s.printf("Deleted user %s.\n", username)
}

func (s *shell) handleResetPassword() {
	username, ok := s.ask("Username")
	if !ok {
		return
	}
	if _, err := s.mgr.Accounts().Get(s.ctx, username); err != nil {
		s.report(err)
		return
	}
	password, err := s.readPassword(fmt.Sprintf("Enter new password for %s: ", username))
	if err != nil {
		s.printf("Error reading password: %v\n", err)
		return
	}
	if err := s.mgr.Accounts().ResetPassword(s.ctx, username, password); err != nil {
		s.report(err)
		return
	}
	s.printf("Password successfully reset for %s.\n", username)
}

// ------------------ Circulation ------------------

// borrower is the session's own username, or one asked for when an admin
// acts on behalf of a member.
func (s *shell) borrower() (string, bool) {
	if !s.sess.IsAdmin() {
		return s.sess.Username, true
	}
	return s.ask("Username")
}

func (s *shell) handleBorrow() {
	isbn, ok := s.ask("ISBN")
	if !ok {
		return
	}
	username, ok := s.borrower()
	if !ok {
		return
	}
	record, err := s.mgr.Circulation().Borrow(s.ctx, *s.sess, isbn, username)
	if err != nil {
		s.report(err)
		return
	}
	s.printf("Borrowed %s. Due on %s.\n", record.ISBN, record.DueDate)
}

func (s *shell) handleReturn() {
	isbn, ok := s.ask("ISBN")
	if !ok {
		return
	}
	username, ok := s.borrower()
	if !ok {
		return
	}
	if err := s.mgr.Circulation().Return(s.ctx, *s.sess, isbn, username); err != nil {
		s.report(err)
		return
	}
	s.printf("Returned %s.\n", isbn)
}

func (s *shell) printLoans(loans []library.LoanView) {
	if len(loans) == 0 {
		s.println("No active loans.")
		return
	}
	s.printf("%-14s %-30s %-20s %s\n", "ISBN", "Title", "Borrower", "Due")
	s.println(strings.Repeat("-", 80))
	for _, l := range loans {
		s.println(library.PrettyLoan(l))
	}
}

func (s *shell) handleLoans() {
	loans, err := s.mgr.Circulation().ActiveLoans(s.ctx)
	if err != nil {
		s.report(err)
		return
	}
	s.printLoans(loans)
}

func (s *shell) handleOverdue() {
	loans, err := s.mgr.Circulation().Overdue(s.ctx, library.SystemClock{}.Now())
	if err != nil {
		s.report(err)
		return
	}
	s.printLoans(loans)
}

func (s *shell) handleMyLoans() {
	loans, err := s.mgr.Circulation().LoansFor(s.ctx, s.sess.Username)
	if err != nil {
		s.report(err)
		return
	}
	s.printLoans(loans)
	s.printf("%d/%d books borrowed.\n", len(loans), s.mgr.Circulation().MaxLoans())
}

// ------------------ Favorites ------------------

func (s *shell) handleFavorite() {
	isbn, ok := s.ask("ISBN")
	if !ok {
		return
	}
	if err := s.mgr.Favorites().Add(s.ctx, *s.sess, isbn); err != nil {
		s.report(err)
		return
	}
	s.printf("Added %s to your favorites.\n", isbn)
}

func (s *shell) handleUnfavorite() {
	isbn, ok := s.ask("ISBN")
	if !ok {
		return
	}
	if err := s.mgr.Favorites().Remove(s.ctx, *s.sess, isbn); err != nil {
		s.report(err)
		return
	}
	s.printf("Removed %s from your favorites.\n", isbn)
}

func (s *shell) handleFavorites() {
	books, err := s.mgr.Favorites().List(s.ctx, *s.sess)
	if err != nil {
		s.report(err)
		return
	}
	if len(books) == 0 {
		s.println("No favorites yet.")
		return
	}
	s.printBooks(books)
}

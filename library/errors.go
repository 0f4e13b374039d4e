package library

import (
	"errors"

	"elibrary/store"
)

// Every service error wraps exactly one of these; classify with errors.Is.
var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a unique isbn or username is already taken.
	ErrDuplicate = errors.New("already exists")

	// ErrNotFound is returned when a referenced book, user or loan does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the current state blocks the operation,
	// e.g. deleting a borrowed book or a user with outstanding loans.
	ErrConflict = errors.New("conflicts with current state")

	// ErrUnavailable is returned when borrowing a book that is already lent.
	ErrUnavailable = errors.New("book is not available for borrowing")

	// ErrLoanLimitExceeded is returned when the borrower already holds the maximum number of loans.
	ErrLoanLimitExceeded = errors.New("loan limit exceeded")

	// ErrInvalidCredentials is the single failure for unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrForbidden is returned when a non-admin session acts for another user.
	ErrForbidden = errors.New("not permitted for this session")

	// ErrStoreIO is returned when the underlying persistence fails.
	ErrStoreIO = store.ErrIO
)

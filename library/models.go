package library

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Book represents metadata and current availability of a book in the library.
// A book with Available=false has exactly one active BorrowRecord.
type Book struct {
	ISBN      string `json:"isbn"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Genre     string `json:"genre"`
	Available bool   `json:"available"`
	DateAdded Date   `json:"date_added"`
}

// BookFields are the caller-editable attributes of a Book.
type BookFields struct {
	ISBN   string `validate:"required,number"`
	Title  string `validate:"required"`
	Author string `validate:"required"`
	Genre  string
}

// Role of an account or session.
type Role string

const (
	RoleStudent Role = "Student"
	RoleFaculty Role = "Faculty"
	// RoleAdmin is only ever held by sessions of reserved admin aliases.
	RoleAdmin Role = "Admin"
)

// User represents a registered library member.
type User struct {
	Username     string `json:"username"`
	Role         Role   `json:"role"`
	StudentID    string `json:"student_id"`
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
	Email        string `json:"email"`
	Contact      string `json:"contact"`
	Address      string `json:"address"`
	Age          string `json:"age"`
}

// SignupRequest carries the signup form. Password is plaintext and is only
// ever stored hashed.
type SignupRequest struct {
	Role      Role   `validate:"required,oneof=Student Faculty"`
	StudentID string `validate:"required"`
	Name      string `validate:"required"`
	Username  string `validate:"required"`
	Password  string `validate:"required,notblank"`
	Email     string `validate:"required,library_email"`
	Contact   string `validate:"required,len=11,number"`
	Address   string `validate:"required"`
	Age       string `validate:"required"`
}

// BorrowRecord is one active loan. Returning the book deletes it.
type BorrowRecord struct {
	ISBN       string `json:"isbn"`
	Username   string `json:"username"`
	BorrowDate Date   `json:"borrow_date"`
	DueDate    Date   `json:"due_date"`
}

// LoanView joins a loan with the book title and borrower name for display.
type LoanView struct {
	Record       BorrowRecord
	Title        string
	BorrowerName string
	Overdue      bool
}

// FavoriteEntry marks a book as a favorite of one user.
type FavoriteEntry struct {
	Username string `json:"username"`
	ISBN     string `json:"isbn"`
}

// Session is the authenticated identity a caller acts as.
type Session struct {
	ID        uuid.UUID
	Username  string
	Role      Role
	StartedAt time.Time
}

// IsAdmin reports whether the session belongs to an admin alias.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// ---------------------------------------------------------------------------
// Date
// ---------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// Date is a calendar day without time of day or zone.
type Date struct {
	t time.Time // midnight UTC
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t: t}, nil
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

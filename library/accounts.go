package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"elibrary/config"
	"elibrary/store"
)

// adminAlias is a reserved username that authenticates as Admin without
// consulting the user store.
type adminAlias struct {
	username     string
	passwordHash []byte
}

// Accounts owns User entities.
type Accounts struct {
	store    store.Store
	clock    Clock
	log      logrus.FieldLogger
	loans    *Circulation
	admins   []adminAlias
	hashCost int
}

func newAdminAliases(admins []config.Admin, cost int) ([]adminAlias, error) {
	out := make([]adminAlias, 0, len(admins))
	for _, a := range admins {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		out = append(out, adminAlias{username: a.Username, passwordHash: hash})
	}
	return out, nil
}

func (a *Accounts) admin(username string) (adminAlias, bool) {
	for _, alias := range a.admins {
		if alias.username == username {
			return alias, true
		}
	}
	return adminAlias{}, false
}

// IsReserved reports whether username is an admin alias.
func (a *Accounts) IsReserved(username string) bool {
	_, ok := a.admin(username)
	return ok
}

// Signup validates the request and stores a new user with a hashed password.
func (a *Accounts) Signup(ctx context.Context, req SignupRequest) (User, error) {
	req = normalizeSignup(req)
	if err := validateSignup(req); err != nil {
		return User{}, err
	}
	if a.IsReserved(req.Username) {
		return User{}, fmt.Errorf("%w: username taken", ErrDuplicate)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user := User{
		Username:     req.Username,
		Role:         req.Role,
		StudentID:    req.StudentID,
		Name:         req.Name,
		PasswordHash: string(hash),
		Email:        req.Email,
		Contact:      req.Contact,
		Address:      req.Address,
		Age:          req.Age,
	}

	err = a.store.Update(ctx, func(tx store.Tx) error {
		users, err := loadUsers(tx)
		if err != nil {
			return err
		}
		if findUser(users, user.Username) >= 0 {
			return fmt.Errorf("%w: username taken", ErrDuplicate)
		}
		return saveUsers(tx, append(users, user))
	})
	if err != nil {
		return User{}, err
	}

	a.log.WithFields(logrus.Fields{"op": "signup", "username": user.Username, "role": user.Role}).Info("account created")
	return user, nil
}

// Authenticate checks the credentials and opens a session. Unknown users and
// wrong passwords fail identically with ErrInvalidCredentials.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (Session, error) {
	if alias, ok := a.admin(username); ok {
		if bcrypt.CompareHashAndPassword(alias.passwordHash, []byte(password)) != nil {
			return Session{}, ErrInvalidCredentials
		}
		return a.newSession(username, RoleAdmin), nil
	}

	user, err := a.Get(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	return a.newSession(user.Username, user.Role), nil
}

func (a *Accounts) newSession(username string, role Role) Session {
	s := Session{
		ID:        uuid.New(),
		Username:  username,
		Role:      role,
		StartedAt: a.clock.Now(),
	}
	a.log.WithFields(logrus.Fields{"op": "login", "username": username, "session": s.ID}).Info("session opened")
	return s
}

// DeleteUser removes a user who holds no active loan, along with their
// favorites.
func (a *Accounts) DeleteUser(ctx context.Context, username string) error {
	err := a.store.Update(ctx, func(tx store.Tx) error {
		users, err := loadUsers(tx)
		if err != nil {
			return err
		}
		i := findUser(users, username)
		if i < 0 {
			return fmt.Errorf("%w: user %s", ErrNotFound, username)
		}
		count, err := a.loans.countIn(tx, username)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: user %s has %d borrowed book(s)", ErrConflict, username, count)
		}

		// A later signup may reuse the username.
		favs, err := loadFavorites(tx)
		if err != nil {
			return err
		}
		kept := favs[:0]
		for _, f := range favs {
			if f.Username != username {
				kept = append(kept, f)
			}
		}
		if err := saveFavorites(tx, kept); err != nil {
			return err
		}
		return saveUsers(tx, append(users[:i], users[i+1:]...))
	})
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{"op": "delete_user", "username": username}).Info("account deleted")
	return nil
}

// ResetPassword replaces the stored password hash.
func (a *Accounts) ResetPassword(ctx context.Context, username, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = a.store.Update(ctx, func(tx store.Tx) error {
		users, err := loadUsers(tx)
		if err != nil {
			return err
		}
		i := findUser(users, username)
		if i < 0 {
			return fmt.Errorf("%w: user %s", ErrNotFound, username)
		}
		users[i].PasswordHash = string(hash)
		return saveUsers(tx, users)
	})
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{"op": "reset_password", "username": username}).Info("password reset")
	return nil
}

// Get returns the stored user.
func (a *Accounts) Get(ctx context.Context, username string) (User, error) {
	var user User
	err := a.store.View(ctx, func(tx store.Tx) error {
		users, err := loadUsers(tx)
		if err != nil {
			return err
		}
		i := findUser(users, username)
		if i < 0 {
			return fmt.Errorf("%w: user %s", ErrNotFound, username)
		}
		user = users[i]
		return nil
	})
	return user, err
}

// List returns all users in stored order.
func (a *Accounts) List(ctx context.Context) ([]User, error) {
	var users []User
	err := a.store.View(ctx, func(tx store.Tx) error {
		var err error
		users, err = loadUsers(tx)
		return err
	})
	return users, err
}

// Search returns users whose username or name contains query, ignoring case.
func (a *Accounts) Search(ctx context.Context, query string) ([]User, error) {
	users, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))

	results := []User{}
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.Name), q) {
			results = append(results, u)
		}
	}
	return results, nil
}

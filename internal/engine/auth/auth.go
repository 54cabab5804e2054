// Package auth verifies user credentials and resolves what a signed-in user may do.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

const minPasswordLength = 8

// Principal is an authenticated user together with the permissions of their role.
type Principal struct {
	UserID      string
	Email       string
	Name        string
	Role        domain.Role
	Permissions []string
}

func (p Principal) Has(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError when the principal lacks perm.
func (p Principal) Require(perm string) error {
	if p.Has(perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// Authenticator checks an email/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (Principal, error)
}

// UserStore is the lookup the Service needs from persistence.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Service authenticates against stored bcrypt hashes.
type Service struct {
	Users   UserStore
	Config  *config.Config
	Timeout time.Duration
}

func NewService(users UserStore, cfg *config.Config) Service {
	return Service{Users: users, Config: cfg, Timeout: cfg.AuthTimeout()}
}

// Authenticate never says which half of the credentials was wrong.
func (s Service) Authenticate(ctx context.Context, email, password string) (Principal, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Principal{}, apperr.ErrAuthFailure
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		user domain.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		u, err := s.Users.GetUserByEmail(ctx, email)
		if err == nil {
			err = CheckPassword(u.PasswordHash, password)
		}
		done <- result{u, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return Principal{}, fmt.Errorf("credential check: %w", apperr.ErrExternalServiceUnavailable)
	case res = <-done:
	}
	switch {
	case errors.Is(res.err, apperr.ErrNotFound), errors.Is(res.err, apperr.ErrAuthFailure):
		return Principal{}, apperr.ErrAuthFailure
	case errors.Is(res.err, context.DeadlineExceeded):
		return Principal{}, fmt.Errorf("credential check: %w", apperr.ErrExternalServiceUnavailable)
	case res.err != nil:
		return Principal{}, fmt.Errorf("credential check: %w: %v", apperr.ErrExternalServiceUnavailable, res.err)
	}
	if res.user.Status != domain.UserActive {
		return Principal{}, apperr.ErrAuthFailure
	}
	return s.PrincipalFor(res.user), nil
}

// PrincipalFor builds the principal of a user already known to be valid.
func (s Service) PrincipalFor(u domain.User) Principal {
	p := Principal{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
	if s.Config != nil {
		p.Permissions = s.Config.Permissions(string(u.Role))
	}
	return p
}

// HashPassword returns a salted bcrypt hash.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperr.Invalid("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.Invalid("password: %v", err)
	}
	return string(hash), nil
}

// CheckPassword returns ErrAuthFailure when password does not match hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperr.ErrAuthFailure
	}
	return nil
}

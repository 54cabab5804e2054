package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/domain"
)

type fakeUsers struct {
	users map[string]domain.User
	delay time.Duration
	err   error
}

func (f fakeUsers) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.User{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.User{}, f.err
	}
	u, ok := f.users[email]
	if !ok {
		return domain.User{}, apperr.ErrNotFound
	}
	return u, nil
}

func newUsers(t *testing.T, status domain.UserStatus) fakeUsers {
	t.Helper()
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	return fakeUsers{users: map[string]domain.User{
		"ana@example.com": {ID: "u1", Email: "ana@example.com", Name: "Ana", Role: domain.RoleDirector, Status: status, PasswordHash: hash},
	}}
}

func TestHashIsSaltedAndVerifies(t *testing.T) {
	a, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	b, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "s3cret-pass")
	assert.NoError(t, CheckPassword(a, "s3cret-pass"))
	assert.ErrorIs(t, CheckPassword(a, "wrong-pass"), apperr.ErrAuthFailure)

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(newUsers(t, domain.UserActive), config.Default("2025"))
	ctx := context.Background()

	p, err := svc.Authenticate(ctx, "ana@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.Has("planning.approve"))
	assert.NoError(t, p.Require("cases.approve"))
	var forbidden ForbiddenError
	assert.True(t, errors.As(p.Require("users.manage"), &forbidden))

	_, err = svc.Authenticate(ctx, "ana@example.com", "nope-nope")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	_, err = svc.Authenticate(ctx, "bob@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	_, err = svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	svc := NewService(newUsers(t, domain.UserInactive), config.Default("2025"))
	_, err := svc.Authenticate(context.Background(), "ana@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
}

func TestAuthenticateTimeoutIsUnavailable(t *testing.T) {
	users := newUsers(t, domain.UserActive)
	users.delay = time.Second
	svc := Service{Users: users, Config: config.Default("2025"), Timeout: 20 * time.Millisecond}
	_, err := svc.Authenticate(context.Background(), "ana@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)
	assert.NotErrorIs(t, err, apperr.ErrAuthFailure)
}

func TestAuthenticateStoreFailureIsUnavailable(t *testing.T) {
	svc := Service{Users: fakeUsers{err: errors.New("db down")}, Timeout: time.Second}
	_, err := svc.Authenticate(context.Background(), "ana@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"capexline/internal/app"
	"capexline/internal/apperr"
	"capexline/internal/domain"
	"capexline/internal/engine/auth"
	"capexline/internal/engine/validation"
	"capexline/internal/events"
	"capexline/internal/repo"
)

type UserInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
	Area     string
}

// UserPatch changes the given fields. Password is re-hashed.
type UserPatch struct {
	Name     *string
	Password *string
	Role     *domain.Role
	Area     *string
	Status   *domain.UserStatus
}

func (e *Engine) CreateUser(ctx context.Context, in UserInput, actorID string) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.User{}, apperr.Invalid("user name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return domain.User{}, apperr.Invalid("malformed email %q", in.Email)
	}
	if !in.Role.Valid() {
		return domain.User{}, apperr.Invalid("unknown role %q", in.Role)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, in.Email); err == nil {
		return domain.User{}, apperr.Duplicate("user", repo.NormalizeEmail(in.Email))
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        repo.NormalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		Area:         strings.TrimSpace(in.Area),
		Status:       domain.UserActive,
		CreatedAt:    e.timestamp(),
	}
	err = e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserCreated, e.cycle(), "user", u.ID, actorID, events.EventPayload{
			"email": u.Email,
			"role":  u.Role,
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e *Engine) UpdateUser(ctx context.Context, id string, p UserPatch, actorID string) (domain.User, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, apperr.NotFound("user", id)
		}
		return domain.User{}, err
	}
	changed := events.EventPayload{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return domain.User{}, apperr.Invalid("user name is required")
		}
		u.Name = name
		changed["name"] = name
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			return domain.User{}, apperr.Invalid("unknown role %q", *p.Role)
		}
		u.Role = *p.Role
		changed["role"] = u.Role
	}
	if p.Area != nil {
		u.Area = strings.TrimSpace(*p.Area)
		changed["area"] = u.Area
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return domain.User{}, apperr.Invalid("unknown status %q", *p.Status)
		}
		u.Status = *p.Status
		changed["status"] = u.Status
	}
	if p.Password != nil {
		if u.PasswordHash, err = auth.HashPassword(*p.Password); err != nil {
			return domain.User{}, err
		}
		changed["password"] = "changed"
	}
	if len(changed) == 0 {
		return domain.User{}, apperr.Invalid("nothing to update")
	}
	err = e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UserUpdated, e.cycle(), "user", u.ID, actorID, changed)
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e *Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx)
}

// Login checks credentials and stores the session in the application context.
// Evaluations from an earlier session are dropped.
func (e *Engine) Login(ctx context.Context, appCtx *app.Context, authn auth.Authenticator, email, password string) (auth.Principal, error) {
	p, err := authn.Authenticate(ctx, email, password)
	if err != nil {
		e.Logger.Sugar().Infow("login refused", "email", repo.NormalizeEmail(email), "error", err)
		return auth.Principal{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *appCtx
	next.Session = &app.Session{
		UserID:    p.UserID,
		Email:     p.Email,
		Role:      string(p.Role),
		ExpiresAt: e.now().Add(e.Config.TokenTTL()).UTC(),
	}
	err = e.tx(ctx, func(tx *sql.Tx) error {
		if err := next.Save(ctx, e.Repo, tx, e.timestamp()); err != nil {
			return err
		}
		if err := e.Repo.ClearEvaluations(ctx, tx); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SessionStarted, e.cycle(), "user", p.UserID, p.UserID, events.EventPayload{"role": p.Role})
	})
	if err != nil {
		return auth.Principal{}, err
	}
	*appCtx = next
	e.evaluations = make(map[string]validation.Result)
	return p, nil
}

// Logout clears the stored session and its evaluations.
func (e *Engine) Logout(ctx context.Context, appCtx *app.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if appCtx.Session == nil {
		return nil
	}
	userID := appCtx.Session.UserID
	next := *appCtx
	next.Session = nil
	err := e.tx(ctx, func(tx *sql.Tx) error {
		if err := next.Save(ctx, e.Repo, tx, e.timestamp()); err != nil {
			return err
		}
		if err := e.Repo.ClearEvaluations(ctx, tx); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.SessionEnded, e.cycle(), "user", userID, userID, nil)
	})
	if err != nil {
		return err
	}
	*appCtx = next
	e.evaluations = make(map[string]validation.Result)
	return nil
}

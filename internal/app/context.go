// Package app holds the application context shared by the CLI and HTTP handlers:
// theme, money parameters, the signed-in session and database settings.
// Nothing here is global; callers load it once and pass it along.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/db"
	"capexline/internal/migrate"
	"capexline/internal/money"
	"capexline/internal/repo"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"

	paramSession = "session"
)

// Session is the signed-in user. Credentials are never stored.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

type DatabaseSettings struct {
	Workspace string `json:"workspace"`
	Path      string `json:"path"`
}

type Context struct {
	Theme        string           `json:"theme"`
	ExchangeRate decimal.Decimal  `json:"exchange_rate"`
	VATRate      decimal.Decimal  `json:"vat_rate"`
	Session      *Session         `json:"session,omitempty"`
	Database     DatabaseSettings `json:"database"`
}

// Resolve opens the workspace database, applies migrations and loads capex.yml.
// A missing config file falls back to defaults for cycleOverride (or "default").
// The caller owns the returned connection.
func Resolve(ctx context.Context, workspace, cycleOverride string) (*sql.DB, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	if cfg == nil {
		id := cycleOverride
		if id == "" {
			id = "default"
		}
		cfg = config.Default(id)
	} else if cycleOverride != "" {
		cfg.Cycle.ID = cycleOverride
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, cfg, nil
}

// Load builds the context from config defaults overridden by persisted parameters.
func Load(ctx context.Context, r repo.Repo, cfg *config.Config, workspace string) (*Context, error) {
	c := &Context{
		Theme:        ThemeLight,
		ExchangeRate: cfg.ExchangeRate(),
		VATRate:      cfg.VATRate(),
		Database:     DatabaseSettings{Workspace: workspace, Path: db.Path(workspace)},
	}
	params, err := r.Parameters(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := params[repo.ParamTheme]; ok {
		c.Theme = v
	}
	if v, ok := params[repo.ParamExchangeRate]; ok {
		if c.ExchangeRate, err = money.ParseRate(v); err != nil {
			return nil, fmt.Errorf("stored exchange rate: %w", err)
		}
	}
	if v, ok := params[repo.ParamVATRate]; ok {
		if c.VATRate, err = money.Parse(v); err != nil {
			return nil, fmt.Errorf("stored vat rate: %w", err)
		}
	}
	if v, ok := params[paramSession]; ok && v != "" {
		var s Session
		if err := json.Unmarshal([]byte(v), &s); err == nil {
			c.Session = &s
		}
	}
	return c, nil
}

// Validate checks the values Save would persist.
func (c *Context) Validate() error {
	if c.Theme != ThemeLight && c.Theme != ThemeDark {
		return apperr.Invalid("theme must be %q or %q", ThemeLight, ThemeDark)
	}
	if !c.ExchangeRate.IsPositive() {
		return apperr.Invalid("exchange rate must be > 0")
	}
	if c.VATRate.IsNegative() || c.VATRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Invalid("vat rate must be between 0 and 100")
	}
	return nil
}

// Save writes the context inside tx. A nil session clears the stored one.
func (c *Context) Save(ctx context.Context, r repo.Repo, tx *sql.Tx, now string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	session := ""
	if c.Session != nil {
		data, err := json.Marshal(c.Session)
		if err != nil {
			return err
		}
		session = string(data)
	}
	for _, kv := range [][2]string{
		{repo.ParamTheme, c.Theme},
		{repo.ParamExchangeRate, c.ExchangeRate.String()},
		{repo.ParamVATRate, c.VATRate.String()},
		{paramSession, session},
	} {
		if err := r.SetParameter(ctx, tx, kv[0], kv[1], now); err != nil {
			return err
		}
	}
	return nil
}

// ActiveSession returns the session if one is stored and not expired.
func (c *Context) ActiveSession(now time.Time) (*Session, error) {
	if c.Session.Expired(now) {
		return nil, fmt.Errorf("%w: no active session; run capex login", apperr.ErrAuthFailure)
	}
	return c.Session, nil
}

// ParseTheme normalises user input.
func ParseTheme(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t != ThemeLight && t != ThemeDark {
		return "", apperr.Invalid("theme must be %q or %q", ThemeLight, ThemeDark)
	}
	return t, nil
}

// Package engine drives project records through the planning and follow-up tracks
// and business cases through their promotion ladder. Every accepted mutation changes
// the in-memory registry and the database together, or neither.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/domain"
	"capexline/internal/engine/validation"
	"capexline/internal/events"
	"capexline/internal/money"
	"capexline/internal/registry"
	"capexline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Registry *registry.Registry
	Logger   *zap.Logger
	Now      func() time.Time

	mu sync.Mutex
	// evaluations mirrors the evaluations table the way Registry mirrors projects.
	// Rows live until the model inputs change or the CLI session ends.
	evaluations map[string]validation.Result
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := registry.New(cfg.ExchangeRate())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Config:      cfg,
		Registry:    reg,
		Logger:      logger,
		Now:         time.Now,
		evaluations: make(map[string]validation.Result),
	}
	e.Events = events.Writer{Now: e.now}
	return e, nil
}

// Load replaces the registry with the persisted cycle state.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rate := e.Config.ExchangeRate()
	stored, err := e.Repo.GetParameter(ctx, repo.ParamExchangeRate)
	switch {
	case err == nil:
		if rate, err = money.ParseRate(stored); err != nil {
			return fmt.Errorf("stored exchange rate: %w", err)
		}
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	reg, err := registry.New(rate)
	if err != nil {
		return err
	}
	classes, err := e.Repo.ListClassifications(ctx)
	if err != nil {
		return err
	}
	for _, c := range classes {
		reg.PutClassification(c)
	}
	projects, err := e.Repo.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if _, err := reg.Put(p); err != nil {
			return fmt.Errorf("load project %s: %w", p.Code, err)
		}
	}
	evals, err := e.Repo.ListEvaluations(ctx)
	if err != nil {
		return err
	}
	e.Registry = reg
	e.evaluations = evals
	e.Logger.Debug("registry loaded", zap.Int("projects", len(projects)), zap.Int("classifications", len(classes)),
		zap.Int("evaluations", len(evals)), zap.String("exchange_rate", rate.String()))
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) cycle() string {
	return e.Config.Cycle.ID
}

func (e *Engine) policy() validation.Policy {
	return validation.Policy{Floor: e.Config.RatioFloor(), Upper: e.Config.RatioUpper()}
}

// tx runs fn in a database transaction.
func (e *Engine) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// mutate runs fn in a transaction and rolls the registry back if anything fails.
func (e *Engine) mutate(ctx context.Context, fn func(*sql.Tx) error) error {
	snap := e.Registry.Snapshot()
	if err := e.tx(ctx, fn); err != nil {
		e.Registry.Restore(snap)
		return err
	}
	return nil
}

// invariant reports a state that cannot happen unless the engine has a bug.
// Development cycles crash; production cycles log and refuse the operation.
func (e *Engine) invariant(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if !e.Config.Production() {
		panic("invariant violated: " + msg)
	}
	e.Logger.Error("invariant violated", zap.String("cycle", e.cycle()), zap.String("detail", msg))
	return fmt.Errorf("%w: %s", apperr.ErrInvariant, msg)
}

// persisted maps a missing row for a record the registry holds to an invariant failure.
func (e *Engine) persisted(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return e.invariant("%s %s is in the registry but not in the database", kind, id)
	}
	return err
}

// target returns a record and its macro classification for guard evaluation.
func (e *Engine) target(code string) (domain.ProjectRecord, domain.MacroClassification, error) {
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.ProjectRecord{}, domain.MacroClassification{}, apperr.NotFound("project", code)
	}
	class, ok := e.Registry.Classification(rec.MacroKey)
	if !ok {
		return rec, class, e.invariant("project %s refers to unobserved macro-project %s", code, rec.MacroKey)
	}
	return rec, class, nil
}

func (e *Engine) storeClassification(ctx context.Context, tx *sql.Tx, macroKey string) error {
	c, ok := e.Registry.Classification(macroKey)
	if !ok {
		return e.invariant("macro-project %s was not observed", macroKey)
	}
	return e.Repo.UpsertClassification(ctx, tx, c)
}

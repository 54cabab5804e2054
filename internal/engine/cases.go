package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"capexline/internal/apperr"
	"capexline/internal/domain"
	"capexline/internal/engine/promotion"
	"capexline/internal/events"
)

func validateCase(c domain.BusinessCase) error {
	if !c.Impact.Valid() {
		return apperr.Invalid("unknown impact level %q", c.Impact)
	}
	if !c.Probability.Valid() {
		return apperr.Invalid("unknown probability level %q", c.Probability)
	}
	if !c.Decision.Valid() {
		return apperr.Invalid("unknown decision %q", c.Decision)
	}
	return nil
}

// CreateCase stores a new business case in Draft. Drafts may be incomplete.
func (e *Engine) CreateCase(ctx context.Context, c domain.BusinessCase, actorID string) (domain.BusinessCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := validateCase(c); err != nil {
		return domain.BusinessCase{}, err
	}
	c.ID = uuid.NewString()
	c.Name = strings.TrimSpace(c.Name)
	c.Stage = domain.CaseDraft
	c.CreatedAt = e.timestamp()
	c.UpdatedAt = c.CreatedAt
	err := e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.CaseCreated, e.cycle(), "case", c.ID, actorID, events.EventPayload{
			"name":    c.Name,
			"quarter": c.Quarter,
		})
	})
	if err != nil {
		return domain.BusinessCase{}, err
	}
	return c, nil
}

// UpdateCase replaces the editable content of a case. Stage and identity are kept.
func (e *Engine) UpdateCase(ctx context.Context, id string, in domain.BusinessCase, actorID string) (domain.BusinessCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := validateCase(in); err != nil {
		return domain.BusinessCase{}, err
	}
	cur, err := e.getCase(ctx, id)
	if err != nil {
		return domain.BusinessCase{}, err
	}
	if cur.Stage == domain.CaseApproved {
		return domain.BusinessCase{}, apperr.Guard(string(cur.Stage), string(cur.Stage),
			"approved cases are frozen", "create a new case for further changes")
	}
	in.ID, in.Stage, in.CreatedAt = cur.ID, cur.Stage, cur.CreatedAt
	in.Name = strings.TrimSpace(in.Name)
	in.UpdatedAt = e.timestamp()
	if err := e.saveCase(ctx, in, events.CaseUpdated, actorID, events.EventPayload{"missing": promotion.Missing(in)}); err != nil {
		return domain.BusinessCase{}, err
	}
	return in, nil
}

// PromoteCase advances a case one rung. An Approved case is returned unchanged.
func (e *Engine) PromoteCase(ctx context.Context, id, actorID string) (domain.BusinessCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.getCase(ctx, id)
	if err != nil {
		return domain.BusinessCase{}, err
	}
	out, changed, err := promotion.Promote(cur)
	if err != nil || !changed {
		return cur, err
	}
	out.UpdatedAt = e.timestamp()
	if err := e.saveCase(ctx, out, events.CasePromoted, actorID, events.EventPayload{"from": cur.Stage, "to": out.Stage}); err != nil {
		return domain.BusinessCase{}, err
	}
	return out, nil
}

// RejectCase records an external rejection decision.
func (e *Engine) RejectCase(ctx context.Context, id, reason, actorID string) (domain.BusinessCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.getCase(ctx, id)
	if err != nil {
		return domain.BusinessCase{}, err
	}
	out, err := promotion.Reject(cur)
	if err != nil {
		return cur, err
	}
	out.UpdatedAt = e.timestamp()
	payload := events.EventPayload{"from": cur.Stage, "reason": strings.TrimSpace(reason)}
	if err := e.saveCase(ctx, out, events.CaseRejected, actorID, payload); err != nil {
		return domain.BusinessCase{}, err
	}
	return out, nil
}

// ResubmitCase re-opens a rejected case in Draft.
func (e *Engine) ResubmitCase(ctx context.Context, id, actorID string) (domain.BusinessCase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.getCase(ctx, id)
	if err != nil {
		return domain.BusinessCase{}, err
	}
	out, _, err := promotion.Resubmit(cur)
	if err != nil {
		return cur, err
	}
	out.UpdatedAt = e.timestamp()
	if err := e.saveCase(ctx, out, events.CasePromoted, actorID, events.EventPayload{"from": cur.Stage, "to": out.Stage}); err != nil {
		return domain.BusinessCase{}, err
	}
	return out, nil
}

func (e *Engine) DeleteCase(ctx context.Context, id string, confirm bool, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !confirm {
		return apperr.Invalid("deleting case %s is irreversible; confirm to proceed", id)
	}
	return e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteCase(ctx, tx, id); err != nil {
			return caseNotFound(id, err)
		}
		return e.Events.Append(ctx, tx, events.CaseRemoved, e.cycle(), "case", id, actorID, nil)
	})
}

func (e *Engine) GetCase(ctx context.Context, id string) (domain.BusinessCase, error) {
	return e.getCase(ctx, id)
}

// ListCases returns the cases of a quarter, or all of them when quarter is empty.
func (e *Engine) ListCases(ctx context.Context, quarter string) ([]domain.BusinessCase, error) {
	return e.Repo.ListCases(ctx, strings.TrimSpace(quarter))
}

func (e *Engine) getCase(ctx context.Context, id string) (domain.BusinessCase, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return domain.BusinessCase{}, caseNotFound(id, err)
	}
	return c, nil
}

func (e *Engine) saveCase(ctx context.Context, c domain.BusinessCase, evtType, actorID string, payload events.EventPayload) error {
	return e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateCase(ctx, tx, c); err != nil {
			return caseNotFound(c.ID, err)
		}
		payload["stage"] = c.Stage
		return e.Events.Append(ctx, tx, evtType, e.cycle(), "case", c.ID, actorID, payload)
	})
}

func caseNotFound(id string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("case", id)
	}
	return err
}

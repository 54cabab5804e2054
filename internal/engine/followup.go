package engine

import (
	"context"
	"database/sql"

	"capexline/internal/apperr"
	"capexline/internal/domain"
	"capexline/internal/engine/distribution"
	"capexline/internal/events"
)

func followUpLabel(s domain.FollowUpStage) string {
	if s == domain.FollowUpNone {
		return "none"
	}
	return string(s)
}

// GetPlan returns the monthly plan of a record and how it compares to the approved amount.
func (e *Engine) GetPlan(ctx context.Context, code string) (domain.MonthlyPlan, distribution.Status, error) {
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.MonthlyPlan{}, distribution.Status{}, apperr.NotFound("project", code)
	}
	plan, err := e.Repo.GetPlan(ctx, code)
	if err != nil {
		return plan, distribution.Status{}, err
	}
	return plan, distribution.Check(rec.LocalAmount, plan), nil
}

// SetMonthlyPlan stores the distribution of the approved amount. In Adjustments,
// months changing by more than the configured threshold need director approval.
func (e *Engine) SetMonthlyPlan(ctx context.Context, code string, plan domain.MonthlyPlan, directorApproved bool, actorID string) (distribution.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.Registry.Get(code)
	if !ok {
		return distribution.Status{}, apperr.NotFound("project", code)
	}
	stage := followUpLabel(rec.FollowUp)
	switch rec.FollowUp {
	case domain.FollowUpPlan, domain.FollowUpAdjustments:
	case domain.FollowUpNone:
		return distribution.Status{}, apperr.Guard(stage, string(domain.FollowUpPlan),
			"the monthly plan opens when the project reaches Consolidation", "advance the project to Consolidation")
	default:
		return distribution.Status{}, apperr.Guard(stage, stage,
			"the monthly plan is frozen after Plan", "wait for Adjustments to change the distribution")
	}
	if err := distribution.ValidatePlan(plan); err != nil {
		return distribution.Status{}, err
	}
	current, err := e.Repo.GetPlan(ctx, code)
	if err != nil {
		return distribution.Status{}, err
	}
	var flagged []string
	if rec.FollowUp == domain.FollowUpAdjustments {
		flagged = distribution.AdjustmentsNeedingApproval(current, plan, e.Config.AdjustmentThreshold())
		if len(flagged) > 0 && !directorApproved {
			return distribution.Status{}, apperr.Guard(stage, stage,
				"changes above "+e.Config.AdjustmentThreshold().Shift(2).String()+"% need director approval",
				"ask the area director to approve the adjustment", flagged...)
		}
	}
	status := distribution.Check(rec.LocalAmount, plan)
	err = e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertPlan(ctx, tx, code, plan, e.timestamp()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.PlanUpdated, e.cycle(), "project", code, actorID, events.EventPayload{
			"follow_up":         rec.FollowUp,
			"state":             status.State,
			"delta":             status.Delta.String(),
			"director_approved": directorApproved && len(flagged) > 0,
			"flagged_months":    flagged,
		})
	})
	if err != nil {
		return distribution.Status{}, err
	}
	return status, nil
}

// AdvanceFollowUp moves a consolidated record one follow-up stage forward.
// Plan may only be completed when the plan is Balanced. Adjustments is terminal.
func (e *Engine) AdvanceFollowUp(ctx context.Context, code, actorID string) (domain.ProjectRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.ProjectRecord{}, apperr.NotFound("project", code)
	}
	from := rec.FollowUp
	switch from {
	case domain.FollowUpNone:
		return rec, apperr.Guard(followUpLabel(from), string(domain.FollowUpPlan),
			"follow-up opens when the project reaches Consolidation", "advance the project to Consolidation")
	case domain.FollowUpAdjustments:
		return rec, nil
	case domain.FollowUpPlan:
		plan, err := e.Repo.GetPlan(ctx, code)
		if err != nil {
			return rec, err
		}
		status := distribution.Check(rec.LocalAmount, plan)
		switch status.State {
		case distribution.NotStarted:
			return rec, apperr.Guard(string(from), string(from.Next()), "the monthly plan has not been started",
				"distribute the approved amount over the twelve months")
		case distribution.Mismatched:
			return rec, apperr.Guard(string(from), string(from.Next()),
				"the monthly plan does not match the approved amount (delta "+status.Delta.String()+")",
				"adjust the months until the delta is 0")
		}
	}
	rec.FollowUp = from.Next()
	rec.UpdatedAt = e.timestamp()
	var out domain.ProjectRecord
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		var err error
		if out, err = e.Registry.Put(rec); err != nil {
			return err
		}
		if err := e.persisted("project", code, e.Repo.UpdateProject(ctx, tx, out)); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.FollowUpAdvanced, e.cycle(), "project", code, actorID, events.EventPayload{
			"from": from,
			"to":   out.FollowUp,
		})
	})
	if err != nil {
		return domain.ProjectRecord{}, err
	}
	return out, nil
}

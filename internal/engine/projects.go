package engine

import (
	"context"
	"database/sql"
	"strings"

	"capexline/internal/apperr"
	"capexline/internal/domain"
	"capexline/internal/engine/classify"
	"capexline/internal/engine/distribution"
	"capexline/internal/engine/validation"
	"capexline/internal/events"
	"capexline/internal/registry"
)

// ProjectView is a record with its classification and latest evaluation.
type ProjectView struct {
	domain.ProjectRecord
	Category         domain.Category     `json:"category"`
	Owner            string              `json:"owner"`
	RequiredEvidence domain.EvidenceType `json:"required_evidence,omitempty"`
	Methodology      string              `json:"methodology,omitempty"`
	Severity         domain.Severity     `json:"severity,omitempty"`
}

// ProjectDetail adds the attachments, decisions and plan of one record.
type ProjectDetail struct {
	ProjectView
	Evidence     []domain.Evidence    `json:"evidence"`
	Decisions    []domain.Decision    `json:"decisions"`
	Reviews      []domain.Review      `json:"reviews"`
	Evaluation   *validation.Result   `json:"evaluation,omitempty"`
	Plan         *domain.MonthlyPlan  `json:"plan,omitempty"`
	Distribution *distribution.Status `json:"distribution,omitempty"`
}

// ProjectFilter narrows ListProjects. Zero values match everything.
// Methodology matches the review methodology or its evidence type, ignoring case.
type ProjectFilter struct {
	Type        domain.ProjectType
	MacroKey    string
	Methodology string
	Severity    domain.Severity
	Search      string
}

// AddProject registers a new record in Identification.
func (e *Engine) AddProject(ctx context.Context, rec domain.ProjectRecord, actorID string) (domain.ProjectRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec.Code = strings.TrimSpace(rec.Code)
	rec.Name = strings.TrimSpace(rec.Name)
	rec.MacroKey = strings.TrimSpace(rec.MacroKey)
	rec.Stage = domain.StageIdentification
	rec.FollowUp = domain.FollowUpNone
	rec.CreatedAt = e.timestamp()
	rec.UpdatedAt = rec.CreatedAt
	_, known := e.Registry.Classification(rec.MacroKey)

	var out domain.ProjectRecord
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		var err error
		if out, err = e.Registry.Add(rec); err != nil {
			return err
		}
		if err := e.Repo.InsertProject(ctx, tx, out); err != nil {
			return err
		}
		if !known {
			if err := e.storeClassification(ctx, tx, out.MacroKey); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.ProjectCreated, e.cycle(), "project", out.Code, actorID, events.EventPayload{
			"macro_key":        out.MacroKey,
			"local_amount":     out.LocalAmount.String(),
			"reference_amount": out.ReferenceAmount.String(),
		})
	})
	if err != nil {
		return domain.ProjectRecord{}, err
	}
	return out, nil
}

// UpdateProject merges patch into the record. Changing the investment or NPV
// discards the record's evaluation and supersedes its committee decisions.
func (e *Engine) UpdateProject(ctx context.Context, code string, patch registry.Patch, actorID string) (domain.ProjectRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if patch.Empty() {
		return domain.ProjectRecord{}, apperr.Invalid("nothing to update")
	}
	var out domain.ProjectRecord
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		prev, ok := e.Registry.Get(code)
		if !ok {
			return apperr.NotFound("project", code)
		}
		updated, err := e.Registry.Update(code, patch)
		if err != nil {
			return err
		}
		updated.UpdatedAt = e.timestamp()
		if out, err = e.Registry.Put(updated); err != nil {
			return err
		}
		if err := e.persisted("project", code, e.Repo.UpdateProject(ctx, tx, out)); err != nil {
			return err
		}
		if out.MacroKey != prev.MacroKey {
			if err := e.storeClassification(ctx, tx, out.MacroKey); err != nil {
				return err
			}
		}
		payload := patchPayload(prev, out)
		if patch.TouchesModel() {
			if err := e.Repo.DeleteEvaluation(ctx, tx, code); err != nil {
				return err
			}
			n, err := e.Repo.SupersedeDecisions(ctx, tx, code)
			if err != nil {
				return err
			}
			if n > 0 {
				payload["decisions_superseded"] = n
			}
		}
		return e.Events.Append(ctx, tx, events.ProjectUpdated, e.cycle(), "project", code, actorID, payload)
	})
	if err != nil {
		return domain.ProjectRecord{}, err
	}
	if patch.TouchesModel() {
		delete(e.evaluations, code)
	}
	return out, nil
}

// RemoveProject deletes a record with its evidence, decisions and plan. It cannot be undone,
// so confirm must be true.
func (e *Engine) RemoveProject(ctx context.Context, code string, confirm bool, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !confirm {
		return apperr.Invalid("removing project %s is irreversible; confirm to proceed", code)
	}
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		rec, err := e.Registry.Remove(code)
		if err != nil {
			return err
		}
		if err := e.persisted("project", code, e.Repo.DeleteProject(ctx, tx, code)); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectRemoved, e.cycle(), "project", code, actorID, events.EventPayload{
			"macro_key":    rec.MacroKey,
			"stage":        rec.Stage,
			"local_amount": rec.LocalAmount.String(),
		})
	})
	if err != nil {
		return err
	}
	delete(e.evaluations, code)
	return nil
}

// Classify sets the category and accountable owner of a macro-project.
func (e *Engine) Classify(ctx context.Context, macroKey string, category domain.Category, owner, actorID string) (domain.MacroClassification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out domain.MacroClassification
	err := e.mutate(ctx, func(tx *sql.Tx) error {
		c, err := e.Registry.Classify(macroKey, category, owner)
		if err != nil {
			return err
		}
		c.UpdatedAt = e.timestamp()
		e.Registry.PutClassification(c)
		out = c
		if err := e.Repo.UpsertClassification(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ClassificationUpdated, e.cycle(), "classification", macroKey, actorID, events.EventPayload{
			"category":          c.Category,
			"owner":             c.Owner,
			"required_evidence": classify.RequiredEvidenceType(c.Category),
		})
	})
	if err != nil {
		return domain.MacroClassification{}, err
	}
	return out, nil
}

func (e *Engine) Classifications() []domain.MacroClassification {
	return e.Registry.Classifications()
}

func (e *Engine) Totals() []registry.MacroTotal {
	return e.Registry.TotalsByMacroProject()
}

// ListProjects returns records in insertion order.
func (e *Engine) ListProjects(f ProjectFilter) []ProjectView {
	e.mu.Lock()
	defer e.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	method := strings.TrimSpace(f.Methodology)
	var out []ProjectView
	for _, rec := range e.Registry.List() {
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if f.MacroKey != "" && rec.MacroKey != f.MacroKey {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(rec.Name), search) && !strings.Contains(strings.ToLower(rec.Code), search) {
			continue
		}
		v := e.view(rec)
		if f.Severity != "" && v.Severity != f.Severity {
			continue
		}
		if method != "" && !strings.EqualFold(v.Methodology, method) && !strings.EqualFold(string(v.RequiredEvidence), method) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// GetProject returns one record with everything attached to it.
func (e *Engine) GetProject(ctx context.Context, code string) (ProjectDetail, error) {
	e.mu.Lock()
	rec, ok := e.Registry.Get(code)
	var eval *validation.Result
	if r, evaluated := e.evaluations[code]; evaluated {
		eval = &r
	}
	var v ProjectView
	if ok {
		v = e.view(rec)
	}
	e.mu.Unlock()
	if !ok {
		return ProjectDetail{}, apperr.NotFound("project", code)
	}
	d := ProjectDetail{ProjectView: v, Evaluation: eval}
	var err error
	if d.Evidence, err = e.Repo.ListEvidence(ctx, code); err != nil {
		return ProjectDetail{}, err
	}
	if d.Decisions, err = e.Repo.ListDecisions(ctx, code); err != nil {
		return ProjectDetail{}, err
	}
	if d.Reviews, err = e.Repo.ListReviews(ctx, code); err != nil {
		return ProjectDetail{}, err
	}
	if rec.FollowUp != domain.FollowUpNone {
		plan, err := e.Repo.GetPlan(ctx, code)
		if err != nil {
			return ProjectDetail{}, err
		}
		status := distribution.Check(rec.LocalAmount, plan)
		d.Plan = &plan
		d.Distribution = &status
	}
	return d, nil
}

// view needs e.mu held.
func (e *Engine) view(rec domain.ProjectRecord) ProjectView {
	v := ProjectView{ProjectRecord: rec}
	if c, ok := e.Registry.Classification(rec.MacroKey); ok {
		v.Category = c.Category
		v.Owner = c.Owner
		v.RequiredEvidence = classify.RequiredEvidenceType(c.Category)
		v.Methodology = classify.Methodology(c.Category)
	}
	if r, ok := e.evaluations[rec.Code]; ok {
		v.Severity = r.Severity
	}
	return v
}

func patchPayload(prev, next domain.ProjectRecord) events.EventPayload {
	changed := events.EventPayload{}
	diff := func(field string, a, b any) {
		if a != b {
			changed[field] = b
		}
	}
	diff("name", prev.Name, next.Name)
	diff("macro_key", prev.MacroKey, next.MacroKey)
	diff("type", prev.Type, next.Type)
	diff("local_amount", prev.LocalAmount.String(), next.LocalAmount.String())
	diff("reference_amount", prev.ReferenceAmount.String(), next.ReferenceAmount.String())
	diff("director", prev.Director, next.Director)
	diff("manager", prev.Manager, next.Manager)
	diff("metric", prev.Metric, next.Metric)
	diff("target_quantity", prev.TargetQuantity, next.TargetQuantity)
	diff("justification", prev.Justification, next.Justification)
	diff("investment", prev.Investment.String(), next.Investment.String())
	diff("npv", prev.NPV.String(), next.NPV.String())
	return changed
}

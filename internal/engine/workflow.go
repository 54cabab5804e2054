package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/domain"
	"capexline/internal/engine/classify"
	"capexline/internal/engine/validation"
	"capexline/internal/events"
	"capexline/internal/repo"
)

// evidenceStages accept attachments.
var evidenceStages = map[domain.PlanningStage]bool{
	domain.StageSupport:      true,
	domain.StageValidation:   true,
	domain.StagePressureTest: true,
}

// AttachEvidence records a supporting document for a record in Support or later.
func (e *Engine) AttachEvidence(ctx context.Context, code string, typ domain.EvidenceType, reference, actorID string) (domain.Evidence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if typ == domain.EvidenceNone || !typ.Valid() {
		return domain.Evidence{}, apperr.Invalid("unknown evidence type %q", typ)
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Evidence{}, apperr.Invalid("evidence reference is required")
	}
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.Evidence{}, apperr.NotFound("project", code)
	}
	if !evidenceStages[rec.Stage] {
		return domain.Evidence{}, apperr.Guard(string(rec.Stage), string(domain.StageSupport),
			"evidence is attached from Support onwards", "advance the project to Support first")
	}
	ev := domain.Evidence{
		ID:          uuid.NewString(),
		ProjectCode: code,
		Type:        typ,
		Reference:   reference,
		ActorID:     actorID,
		CreatedAt:   e.timestamp(),
	}
	err := e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertEvidence(ctx, tx, ev); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.EvidenceAttached, e.cycle(), "project", code, actorID, events.EventPayload{
			"evidence_id": ev.ID,
			"type":        ev.Type,
			"reference":   ev.Reference,
		})
	})
	if err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// Advance moves a record one planning stage forward when the stage guard passes.
// Advancing from Consolidation is a no-op. Reaching Consolidation opens the follow-up Plan.
func (e *Engine) Advance(ctx context.Context, code, actorID string) (domain.ProjectRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, class, err := e.target(code)
	if err != nil {
		return domain.ProjectRecord{}, err
	}
	if rec.Stage == domain.StageConsolidation {
		return rec, nil
	}
	from, to := rec.Stage, rec.Stage.Next()
	refreshed, err := e.checkStageGuard(ctx, rec, class, from, to)
	if err != nil {
		return rec, err
	}
	rec.Stage = to
	if to == domain.StageConsolidation {
		rec.FollowUp = domain.FollowUpPlan
	}
	rec.UpdatedAt = e.timestamp()
	var out domain.ProjectRecord
	err = e.mutate(ctx, func(tx *sql.Tx) error {
		var err error
		if out, err = e.Registry.Put(rec); err != nil {
			return err
		}
		if err := e.persisted("project", code, e.Repo.UpdateProject(ctx, tx, out)); err != nil {
			return err
		}
		if refreshed != nil {
			if err := e.Repo.UpsertEvaluation(ctx, tx, code, *refreshed, rec.UpdatedAt); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.ProjectAdvanced, e.cycle(), "project", code, actorID, events.EventPayload{
			"from": from,
			"to":   to,
		})
	})
	if err != nil {
		return domain.ProjectRecord{}, err
	}
	if refreshed != nil {
		e.evaluations[code] = *refreshed
	}
	e.Logger.Sugar().Debugw("project advanced", "code", code, "from", from, "to", to)
	return out, nil
}

// checkStageGuard reports why rec cannot move from -> to. Leaving PressureTest
// re-evaluates the record; the fresh result is returned for the caller to keep
// once the transition commits.
func (e *Engine) checkStageGuard(ctx context.Context, rec domain.ProjectRecord, class domain.MacroClassification, from, to domain.PlanningStage) (*validation.Result, error) {
	f, t := string(from), string(to)
	switch from {
	case domain.StageIdentification:
		if missing := identificationMissing(rec, e.Config.Planning.IdentificationRequired); len(missing) > 0 {
			return nil, apperr.Guard(f, t, "required intake fields are empty", "complete the record in Identification", missing...)
		}
	case domain.StageClassification:
		return nil, classificationGuard(class, f, t)
	case domain.StageSupport:
		return nil, e.evidenceGuard(ctx, rec, class, f, t)
	case domain.StageValidation:
		if _, ok := e.evaluations[rec.Code]; !ok {
			return nil, apperr.Guard(f, t, "the project has not been evaluated", "run evaluate in Validation")
		}
		return nil, e.decisionGuard(ctx, rec.Code, from, t)
	case domain.StagePressureTest:
		res, err := validation.Evaluate(rec.Investment, rec.NPV, e.policy())
		if err != nil {
			return nil, err
		}
		if err := e.evidenceGuard(ctx, rec, class, f, t); err != nil {
			return nil, err
		}
		if err := e.checklistGuard(ctx, rec.Code, f, t); err != nil {
			return nil, err
		}
		if err := e.decisionGuard(ctx, rec.Code, from, t); err != nil {
			return nil, err
		}
		return &res, nil
	}
	return nil, nil
}

func classificationGuard(class domain.MacroClassification, from, to string) error {
	if classify.CanEnterSupport(class) {
		return nil
	}
	return apperr.Guard(from, to,
		fmt.Sprintf("macro-project %s is not classified", class.MacroKey),
		"return to Classification and set the category and owner",
		classify.Missing(class)...)
}

// evidenceGuard checks that the evidence the current category demands is attached.
func (e *Engine) evidenceGuard(ctx context.Context, rec domain.ProjectRecord, class domain.MacroClassification, from, to string) error {
	if err := classificationGuard(class, from, to); err != nil {
		return err
	}
	required := classify.RequiredEvidenceType(class.Category)
	attached, err := e.Repo.ListEvidence(ctx, rec.Code)
	if err != nil {
		return err
	}
	var other []string
	for _, ev := range attached {
		if ev.Type == required {
			return nil
		}
		other = append(other, string(ev.Type))
	}
	if len(other) > 0 {
		return apperr.Guard(from, to,
			fmt.Sprintf("classification/evidence mismatch: %s requires %s but only %s is attached",
				class.Category, required, strings.Join(dedupe(other), ", ")),
			fmt.Sprintf("attach %s evidence in Support, or return to Classification if the category is wrong", required),
			string(required))
	}
	return apperr.Guard(from, to,
		fmt.Sprintf("no %s evidence attached (%s)", required, classify.Methodology(class.Category)),
		fmt.Sprintf("attach %s evidence in Support", required),
		string(required))
}

func (e *Engine) checklistGuard(ctx context.Context, code, from, to string) error {
	reviews, err := e.Repo.ListReviews(ctx, code)
	if err != nil {
		return err
	}
	attested := make(map[domain.ReviewItem]bool, len(reviews))
	for _, rv := range reviews {
		attested[rv.Item] = true
	}
	var missing []string
	for _, item := range e.Config.Checklist() {
		if !attested[item] {
			missing = append(missing, string(item))
		}
	}
	if len(missing) > 0 {
		return apperr.Guard(from, to, "the reviewer checklist is incomplete", "attest the missing checklist items in PressureTest", missing...)
	}
	return nil
}

func (e *Engine) decisionGuard(ctx context.Context, code string, stage domain.PlanningStage, to string) error {
	d, err := e.Repo.LatestDecision(ctx, code, stage)
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.Guard(string(stage), to, "no committee decision recorded", fmt.Sprintf("record a %s decision", stage))
	}
	if err != nil {
		return err
	}
	if d.Verdict == domain.VerdictReject {
		return apperr.Guard(string(stage), to, "the committee rejected the project",
			"revise the model inputs, evaluate again and record a new decision")
	}
	return nil
}

// AttestReview ticks one item of the reviewer checklist for a record in PressureTest.
func (e *Engine) AttestReview(ctx context.Context, code string, item domain.ReviewItem, note, actorID string) (domain.Review, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !item.Valid() {
		return domain.Review{}, apperr.Invalid("unknown checklist item %q", item)
	}
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.Review{}, apperr.NotFound("project", code)
	}
	if rec.Stage != domain.StagePressureTest {
		stage := string(rec.Stage)
		return domain.Review{}, apperr.Guard(stage, stage, "the reviewer checklist is filled in PressureTest",
			"advance the project to PressureTest")
	}
	rv := domain.Review{
		ProjectCode: code,
		Item:        item,
		Note:        strings.TrimSpace(note),
		ActorID:     actorID,
		CreatedAt:   e.timestamp(),
	}
	err := e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertReview(ctx, tx, rv); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ReviewAttested, e.cycle(), "project", code, actorID, events.EventPayload{
			"item": rv.Item,
		})
	})
	if err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

// Evaluate computes the validation result of a record and keeps it for decision capture.
func (e *Engine) Evaluate(ctx context.Context, code string) (validation.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.Registry.Get(code)
	if !ok {
		return validation.Result{}, apperr.NotFound("project", code)
	}
	res, err := validation.Evaluate(rec.Investment, rec.NPV, e.policy())
	if err != nil {
		return validation.Result{}, fmt.Errorf("evaluate %s: %w", code, err)
	}
	if err := e.Repo.UpsertEvaluation(ctx, nil, code, res, e.timestamp()); err != nil {
		return validation.Result{}, err
	}
	e.evaluations[code] = res
	return res, nil
}

// RecordDecision stores a committee verdict for a record in Validation or PressureTest.
// The record must have been evaluated first; the severity is stored with the verdict.
// Modify options are accepted with a Modify verdict only.
func (e *Engine) RecordDecision(ctx context.Context, code string, verdict domain.Verdict, comments, actorID string, options ...domain.ModifyOption) (domain.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !verdict.Valid() {
		return domain.Decision{}, apperr.Invalid("unknown verdict %q", verdict)
	}
	opts, err := modifyOptions(verdict, options)
	if err != nil {
		return domain.Decision{}, err
	}
	rec, ok := e.Registry.Get(code)
	if !ok {
		return domain.Decision{}, apperr.NotFound("project", code)
	}
	stage := string(rec.Stage)
	if rec.Stage != domain.StageValidation && rec.Stage != domain.StagePressureTest {
		return domain.Decision{}, apperr.Guard(stage, stage, "committee decisions are taken in Validation or PressureTest",
			"advance the project to Validation")
	}
	res, ok := e.evaluations[code]
	if !ok {
		return domain.Decision{}, apperr.Guard(stage, stage, "severity has not been evaluated", "run evaluate before recording the decision")
	}
	d := domain.Decision{
		ID:            uuid.NewString(),
		ProjectCode:   code,
		Stage:         rec.Stage,
		Verdict:       verdict,
		Comments:      strings.TrimSpace(comments),
		Severity:      res.Severity,
		ModifyOptions: opts,
		ActorID:       actorID,
		CreatedAt:     e.timestamp(),
	}
	err = e.tx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
			return err
		}
		payload := events.EventPayload{
			"decision_id": d.ID,
			"stage":       d.Stage,
			"verdict":     d.Verdict,
			"severity":    d.Severity,
			"ratio":       res.RatioDisplay(),
		}
		if len(opts) > 0 {
			payload["modify_options"] = opts
		}
		return e.Events.Append(ctx, tx, events.DecisionRecorded, e.cycle(), "project", code, actorID, payload)
	})
	if err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

func modifyOptions(verdict domain.Verdict, options []domain.ModifyOption) ([]domain.ModifyOption, error) {
	if len(options) == 0 {
		return nil, nil
	}
	if verdict != domain.VerdictModify {
		return nil, apperr.Invalid("modify options go with a %s verdict, not %s", domain.VerdictModify, verdict)
	}
	seen := make(map[domain.ModifyOption]bool, len(options))
	var out []domain.ModifyOption
	for _, o := range options {
		if !o.Valid() {
			return nil, apperr.Invalid("unknown modify option %q", o)
		}
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out, nil
}

func identificationMissing(rec domain.ProjectRecord, required []string) []string {
	if len(required) == 0 {
		required = config.IdentificationFields[:6]
	}
	var missing []string
	for _, field := range required {
		var empty bool
		switch field {
		case "name":
			empty = rec.Name == ""
		case "macro_key":
			empty = rec.MacroKey == ""
		case "type":
			empty = rec.Type == ""
		case "local_amount":
			empty = !rec.LocalAmount.IsPositive()
		case "director":
			empty = rec.Director == ""
		case "manager":
			empty = rec.Manager == ""
		case "metric":
			empty = rec.Metric == ""
		case "justification":
			empty = strings.TrimSpace(rec.Justification) == ""
		}
		if empty {
			missing = append(missing, field)
		}
	}
	return missing
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

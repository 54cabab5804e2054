package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProjectCreated        = "project.created"
	ProjectUpdated        = "project.updated"
	ProjectRemoved        = "project.removed"
	ProjectAdvanced       = "project.advanced"
	ClassificationUpdated = "classification.updated"
	EvidenceAttached      = "evidence.attached"
	DecisionRecorded      = "decision.recorded"
	ReviewAttested        = "review.attested"
	PlanUpdated           = "plan.updated"
	FollowUpAdvanced      = "followup.advanced"
	CaseCreated           = "case.created"
	CaseUpdated           = "case.updated"
	CasePromoted          = "case.promoted"
	CaseRejected          = "case.rejected"
	CaseRemoved           = "case.removed"
	UserCreated           = "user.created"
	UserUpdated           = "user.updated"
	ParametersUpdated     = "parameters.updated"
	SessionStarted        = "session.started"
	SessionEnded          = "session.ended"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, cycleID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,cycle_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(cycleID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"capexline/internal/domain"
)

// InsertDecision appends a committee verdict. Later decisions for the same stage supersede earlier ones.
func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	opts := make([]string, len(d.ModifyOptions))
	for i, o := range d.ModifyOptions {
		opts[i] = string(o)
	}
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO decisions(id,project_code,stage,verdict,comments,severity,modify_options,actor_id,created_at,seq)
VALUES (?,?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(seq),0)+1 FROM decisions))`,
		d.ID, d.ProjectCode, string(d.Stage), string(d.Verdict), nullable(d.Comments), string(d.Severity),
		nullable(strings.Join(opts, ",")), d.ActorID, d.CreatedAt)
	return err
}

// SupersedeDecisions marks every standing decision of a project as superseded and reports how many were.
func (r Repo) SupersedeDecisions(ctx context.Context, tx *sql.Tx, projectCode string) (int64, error) {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE decisions SET superseded=1 WHERE project_code=? AND superseded=0`, projectCode)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const decisionColumns = `id,project_code,stage,verdict,COALESCE(comments,''),severity,COALESCE(modify_options,''),superseded,actor_id,created_at`

func scanDecision(row scanner) (domain.Decision, error) {
	var d domain.Decision
	var stage, verdict, severity, opts string
	if err := row.Scan(&d.ID, &d.ProjectCode, &stage, &verdict, &d.Comments, &severity, &opts, &d.Superseded, &d.ActorID, &d.CreatedAt); err != nil {
		return d, err
	}
	d.Stage = domain.PlanningStage(stage)
	d.Verdict = domain.Verdict(verdict)
	d.Severity = domain.Severity(severity)
	if opts != "" {
		for _, o := range strings.Split(opts, ",") {
			d.ModifyOptions = append(d.ModifyOptions, domain.ModifyOption(o))
		}
	}
	return d, nil
}

// LatestDecision returns the most recent standing decision recorded for a project in a stage.
func (r Repo) LatestDecision(ctx context.Context, projectCode string, stage domain.PlanningStage) (domain.Decision, error) {
	d, err := scanDecision(r.DB.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE project_code=? AND stage=? AND superseded=0 ORDER BY seq DESC LIMIT 1`,
		projectCode, string(stage)))
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	return d, err
}

// ListDecisions returns every decision of a project, superseded ones included, oldest first.
func (r Repo) ListDecisions(ctx context.Context, projectCode string) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE project_code=? ORDER BY seq ASC`, projectCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

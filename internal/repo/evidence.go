package repo

import (
	"context"
	"database/sql"

	"capexline/internal/domain"
)

func (r Repo) InsertEvidence(ctx context.Context, tx *sql.Tx, e domain.Evidence) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO evidence(id,project_code,type,reference,actor_id,created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.ProjectCode, string(e.Type), e.Reference, e.ActorID, e.CreatedAt)
	return err
}

// ListEvidence returns the evidence attached to a project, oldest first.
func (r Repo) ListEvidence(ctx context.Context, projectCode string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_code,type,reference,actor_id,created_at FROM evidence WHERE project_code=? ORDER BY created_at ASC, id ASC`, projectCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		var e domain.Evidence
		var typ string
		if err := rows.Scan(&e.ID, &e.ProjectCode, &typ, &e.Reference, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EvidenceType(typ)
		res = append(res, e)
	}
	return res, rows.Err()
}

// HasEvidence reports whether a project carries evidence of the given type.
func (r Repo) HasEvidence(ctx context.Context, projectCode string, typ domain.EvidenceType) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM evidence WHERE project_code=? AND type=?`, projectCode, string(typ)).Scan(&n)
	return n > 0, err
}

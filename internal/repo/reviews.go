package repo

import (
	"context"
	"database/sql"

	"capexline/internal/domain"
)

// UpsertReview records a checklist attestation. Attesting an item again replaces the note and author.
func (r Repo) UpsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO reviews(project_code,item,note,actor_id,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_code,item) DO UPDATE SET note=excluded.note, actor_id=excluded.actor_id, created_at=excluded.created_at`,
		rv.ProjectCode, string(rv.Item), nullable(rv.Note), rv.ActorID, rv.CreatedAt)
	return err
}

func (r Repo) ListReviews(ctx context.Context, projectCode string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_code,item,COALESCE(note,''),actor_id,created_at FROM reviews WHERE project_code=? ORDER BY item`, projectCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		var rv domain.Review
		var item string
		if err := rows.Scan(&rv.ProjectCode, &item, &rv.Note, &rv.ActorID, &rv.CreatedAt); err != nil {
			return nil, err
		}
		rv.Item = domain.ReviewItem(item)
		res = append(res, rv)
	}
	return res, rows.Err()
}

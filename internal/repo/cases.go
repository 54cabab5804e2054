package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"capexline/internal/domain"
)

// Business cases are stored as a JSON body with the listing columns broken out.

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.BusinessCase) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = r.execer(tx).ExecContext(ctx, `INSERT INTO business_cases(id,name,quarter,stage,body_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Quarter), string(c.Stage), string(body), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, c domain.BusinessCase) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE business_cases SET name=?,quarter=?,stage=?,body_json=?,updated_at=? WHERE id=?`,
		c.Name, nullable(c.Quarter), string(c.Stage), string(body), c.UpdatedAt, c.ID)
	return affectedOne(res, err)
}

func (r Repo) DeleteCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.execer(tx).ExecContext(ctx, `DELETE FROM business_cases WHERE id=?`, id)
	return affectedOne(res, err)
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.BusinessCase, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT body_json FROM business_cases WHERE id=?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BusinessCase{}, ErrNotFound
	}
	if err != nil {
		return domain.BusinessCase{}, err
	}
	var c domain.BusinessCase
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return domain.BusinessCase{}, err
	}
	return c, nil
}

// ListCases returns cases oldest first, optionally restricted to one quarter.
func (r Repo) ListCases(ctx context.Context, quarter string) ([]domain.BusinessCase, error) {
	query := `SELECT body_json FROM business_cases`
	var args []any
	if quarter != "" {
		query += ` WHERE quarter=?`
		args = append(args, quarter)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BusinessCase
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c domain.BusinessCase
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

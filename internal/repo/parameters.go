package repo

import (
	"context"
	"database/sql"
	"errors"
)

// Parameter keys persisted across runs.
const (
	ParamExchangeRate = "exchange_rate"
	ParamVATRate      = "vat_rate"
	ParamTheme        = "theme"
)

func (r Repo) SetParameter(ctx context.Context, tx *sql.Tx, key, value, now string) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO parameters(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
	return err
}

// GetParameter returns ErrNotFound when the key was never set.
func (r Repo) GetParameter(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM parameters WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) Parameters(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,value FROM parameters ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		res[k] = v
	}
	return res, rows.Err()
}

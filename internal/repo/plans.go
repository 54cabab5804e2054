package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"capexline/internal/domain"
)

// UpsertPlan stores the monthly distribution as a JSON array of twelve decimal strings.
func (r Repo) UpsertPlan(ctx context.Context, tx *sql.Tx, projectCode string, plan domain.MonthlyPlan, now string) error {
	months := make([]string, len(plan))
	for i, v := range plan {
		months[i] = v.String()
	}
	raw, err := json.Marshal(months)
	if err != nil {
		return err
	}
	_, err = r.execer(tx).ExecContext(ctx, `INSERT INTO monthly_plans(project_code,months_json,updated_at) VALUES (?,?,?)
ON CONFLICT(project_code) DO UPDATE SET months_json=excluded.months_json, updated_at=excluded.updated_at`,
		projectCode, string(raw), now)
	return err
}

// GetPlan returns the stored plan, or an empty plan when none was set.
func (r Repo) GetPlan(ctx context.Context, projectCode string) (domain.MonthlyPlan, error) {
	var plan domain.MonthlyPlan
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT months_json FROM monthly_plans WHERE project_code=?`, projectCode).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return plan, nil
	}
	if err != nil {
		return plan, err
	}
	var months []string
	if err := json.Unmarshal([]byte(raw), &months); err != nil {
		return plan, err
	}
	for i := 0; i < len(plan) && i < len(months); i++ {
		if plan[i], err = decimal.NewFromString(months[i]); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

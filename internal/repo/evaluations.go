package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"capexline/internal/domain"
	"capexline/internal/engine/validation"
)

// UpsertEvaluation stores the latest validation result of a project, replacing the previous one.
func (r Repo) UpsertEvaluation(ctx context.Context, tx *sql.Tx, projectCode string, res validation.Result, now string) error {
	rules, err := json.Marshal(res.Rules)
	if err != nil {
		return err
	}
	_, err = r.execer(tx).ExecContext(ctx, `INSERT INTO evaluations(project_code,investment,npv,ratio,severity,rules_json,evaluated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(project_code) DO UPDATE SET investment=excluded.investment, npv=excluded.npv, ratio=excluded.ratio,
severity=excluded.severity, rules_json=excluded.rules_json, evaluated_at=excluded.evaluated_at`,
		projectCode, res.Investment.String(), res.NPV.String(), res.Ratio.String(), string(res.Severity), string(rules), now)
	return err
}

func (r Repo) DeleteEvaluation(ctx context.Context, tx *sql.Tx, projectCode string) error {
	_, err := r.execer(tx).ExecContext(ctx, `DELETE FROM evaluations WHERE project_code=?`, projectCode)
	return err
}

// ClearEvaluations drops every stored evaluation. Sessions start without any.
func (r Repo) ClearEvaluations(ctx context.Context, tx *sql.Tx) error {
	_, err := r.execer(tx).ExecContext(ctx, `DELETE FROM evaluations`)
	return err
}

// ListEvaluations returns the stored results keyed by project code.
func (r Repo) ListEvaluations(ctx context.Context) (map[string]validation.Result, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_code,investment,npv,ratio,severity,rules_json FROM evaluations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]validation.Result)
	for rows.Next() {
		var code, investment, npv, ratio, severity, rules string
		if err := rows.Scan(&code, &investment, &npv, &ratio, &severity, &rules); err != nil {
			return nil, err
		}
		var res validation.Result
		for _, f := range []struct {
			dst *decimal.Decimal
			raw string
		}{{&res.Investment, investment}, {&res.NPV, npv}, {&res.Ratio, ratio}} {
			if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
				return nil, fmt.Errorf("evaluation of %s: %w", code, err)
			}
		}
		if err := json.Unmarshal([]byte(rules), &res.Rules); err != nil {
			return nil, fmt.Errorf("evaluation rules of %s: %w", code, err)
		}
		res.Severity = domain.Severity(severity)
		out[code] = res
	}
	return out, rows.Err()
}

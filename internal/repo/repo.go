package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
	"capexline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is apperr.ErrNotFound so callers can match either.
var ErrNotFound = apperr.ErrNotFound

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const projectColumns = `code,name,macro_key,COALESCE(type,''),local_amount,reference_amount,COALESCE(director,''),COALESCE(manager,''),
COALESCE(metric,''),target_quantity,COALESCE(justification,''),investment,npv,stage,COALESCE(follow_up,''),created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (domain.ProjectRecord, error) {
	var (
		p                                  domain.ProjectRecord
		typ, stage, followUp               string
		local, reference, investment, npvS string
	)
	err := row.Scan(&p.Code, &p.Name, &p.MacroKey, &typ, &local, &reference, &p.Director, &p.Manager,
		&p.Metric, &p.TargetQuantity, &p.Justification, &investment, &npvS, &stage, &followUp, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Type = domain.ProjectType(typ)
	p.Stage = domain.PlanningStage(stage)
	p.FollowUp = domain.FollowUpStage(followUp)
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&p.LocalAmount, local}, {&p.ReferenceAmount, reference}, {&p.Investment, investment}, {&p.NPV, npvS}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return p, err
		}
	}
	return p, nil
}

// InsertProject stores a new record at the end of the listing order.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.ProjectRecord) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO projects(code,seq,name,macro_key,type,local_amount,reference_amount,director,manager,metric,target_quantity,justification,investment,npv,stage,follow_up,created_at,updated_at)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM projects),?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Code, p.Name, p.MacroKey, nullable(string(p.Type)), p.LocalAmount.String(), p.ReferenceAmount.String(),
		nullable(p.Director), nullable(p.Manager), nullable(p.Metric), p.TargetQuantity, nullable(p.Justification),
		p.Investment.String(), p.NPV.String(), string(p.Stage), nullable(string(p.FollowUp)), p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateProject rewrites every mutable column of a record.
func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.ProjectRecord) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE projects SET name=?,macro_key=?,type=?,local_amount=?,reference_amount=?,director=?,manager=?,metric=?,
target_quantity=?,justification=?,investment=?,npv=?,stage=?,follow_up=?,updated_at=? WHERE code=?`,
		p.Name, p.MacroKey, nullable(string(p.Type)), p.LocalAmount.String(), p.ReferenceAmount.String(),
		nullable(p.Director), nullable(p.Manager), nullable(p.Metric), p.TargetQuantity, nullable(p.Justification),
		p.Investment.String(), p.NPV.String(), string(p.Stage), nullable(string(p.FollowUp)), p.UpdatedAt, p.Code)
	return affectedOne(res, err)
}

// UpdateReferenceAmount stores a re-derived reference amount.
func (r Repo) UpdateReferenceAmount(ctx context.Context, tx *sql.Tx, code string, amount decimal.Decimal) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE projects SET reference_amount=? WHERE code=?`, amount.String(), code)
	return affectedOne(res, err)
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, code string) error {
	res, err := r.execer(tx).ExecContext(ctx, `DELETE FROM projects WHERE code=?`, code)
	return affectedOne(res, err)
}

func (r Repo) GetProject(ctx context.Context, code string) (domain.ProjectRecord, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE code=?`, code))
}

// ListProjects returns records in insertion order.
func (r Repo) ListProjects(ctx context.Context) ([]domain.ProjectRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectRecord
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertClassification keeps the first-seen order of macro keys.
func (r Repo) UpsertClassification(ctx context.Context, tx *sql.Tx, c domain.MacroClassification) error {
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO classifications(macro_key,seq,category,owner,updated_at)
VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM classifications),?,?,?)
ON CONFLICT(macro_key) DO UPDATE SET category=excluded.category, owner=excluded.owner, updated_at=excluded.updated_at`,
		c.MacroKey, nullable(string(c.Category)), nullable(c.Owner), nullable(c.UpdatedAt))
	return err
}

func (r Repo) ListClassifications(ctx context.Context) ([]domain.MacroClassification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT macro_key,COALESCE(category,''),COALESCE(owner,''),COALESCE(updated_at,'') FROM classifications ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MacroClassification
	for rows.Next() {
		var c domain.MacroClassification
		var cat string
		if err := rows.Scan(&c.MacroKey, &cat, &c.Owner, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Category = domain.Category(cat)
		res = append(res, c)
	}
	return res, rows.Err()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

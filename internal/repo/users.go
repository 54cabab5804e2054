package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"capexline/internal/domain"
)

const userColumns = `id,name,email,password_hash,role,COALESCE(area,''),status,created_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	var role, status string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Area, &status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return u, err
}

// NormalizeEmail lower-cases and trims an address before lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// InsertUser stores a user. PasswordHash must already be hashed.
func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" || u.PasswordHash == "" {
		return errors.New("id and password_hash required")
	}
	_, err := r.execer(tx).ExecContext(ctx, `INSERT INTO users(id,name,email,password_hash,role,area,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, NormalizeEmail(u.Email), u.PasswordHash, string(u.Role), nullable(u.Area), string(u.Status), u.CreatedAt)
	return err
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	res, err := r.execer(tx).ExecContext(ctx, `UPDATE users SET name=?,password_hash=?,role=?,area=?,status=? WHERE id=?`,
		u.Name, u.PasswordHash, string(u.Role), nullable(u.Area), string(u.Status), u.ID)
	return affectedOne(res, err)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=? LIMIT 1`, NormalizeEmail(email)))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n)
	return n, err
}

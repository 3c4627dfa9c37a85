package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalis-health/vitalis/internal/platform/db"
	"github.com/vitalis-health/vitalis/internal/rbac"
	"github.com/vitalis-health/vitalis/internal/shared"
)

const userColumns = `id, name, email, password_hash, is_admin, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var user User
		if err := scanUser(rows.Scan, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// FindByID fetches a user by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).Scan, &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByEmail fetches a user by email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email).Scan, &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindPrincipal implements rbac.PrincipalSource.
func (r *Repository) FindPrincipal(ctx context.Context, id int64) (rbac.Principal, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

// CreateUser inserts a new account.
func (r *Repository) CreateUser(ctx context.Context, name, email, passwordHash string, isAdmin bool) (*User, error) {
	var user User
	err := scanUser(r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, is_admin, is_active) VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING `+userColumns, name, email, passwordHash, isAdmin).Scan, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes name and email.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, name, email string) (*User, error) {
	var user User
	err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns,
		id, name, email).Scan, &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetAdminFlag flips the is_admin attribute.
func (r *Repository) SetAdminFlag(ctx context.Context, id int64, isAdmin bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`, id, isAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive flips the account status.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteUser removes the account and its grant rows in one transaction.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

func scanUser(scan func(dest ...any) error, user *User) error {
	return scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
}

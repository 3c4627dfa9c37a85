package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalis-health/vitalis/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PGStore provides PostgreSQL backed persistence for the RBAC engine.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// CreatePermission inserts a new permission into the catalog.
func (s *PGStore) CreatePermission(ctx context.Context, slug, name, description string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx,
		`INSERT INTO permissions (slug, name, description) VALUES ($1, $2, $3) RETURNING id, slug, name, description`,
		slug, name, description,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, mapPGError(err)
	}
	return p, nil
}

// GetPermission fetches a permission by id.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, description FROM permissions WHERE id = $1`, id,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, mapPGError(err)
	}
	return p, nil
}

// GetPermissionBySlug fetches a permission by its unique slug.
func (s *PGStore) GetPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, description FROM permissions WHERE slug = $1`, slug,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, mapPGError(err)
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by slug.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, slug, name, description FROM permissions ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// UpdatePermission updates name and description. The slug is immutable:
// renaming it would orphan existing grant rows.
func (s *PGStore) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx,
		`UPDATE permissions SET name = $2, description = $3 WHERE id = $1 RETURNING id, slug, name, description`,
		id, name, description,
	).Scan(&p.ID, &p.Slug, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, mapPGError(err)
	}
	return p, nil
}

// DeletePermission removes the permission and cascades over both grant
// relations inside one transaction, so a mid-cascade failure cannot leave
// orphaned rows behind.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE permission_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateRole inserts a new role.
func (s *PGStore) CreateRole(ctx context.Context, slug, name, description string) (Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx,
		`INSERT INTO roles (slug, name, description) VALUES ($1, $2, $3)
		 RETURNING id, slug, name, description, created_at, updated_at`,
		slug, name, description,
	).Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return r, nil
}

// GetRole fetches a role by id.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, description, created_at, updated_at FROM roles WHERE id = $1`, id,
	).Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return r, nil
}

// GetRoleBySlug fetches a role by its unique slug.
func (s *PGStore) GetRoleBySlug(ctx context.Context, slug string) (Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, description, created_at, updated_at FROM roles WHERE slug = $1`, slug,
	).Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return r, nil
}

// ListRoles returns all roles ordered by slug.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, slug, name, description, created_at, updated_at FROM roles ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UpdateRole updates name and description of an existing role.
func (s *PGStore) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	var r Role
	err := s.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1
		 RETURNING id, slug, name, description, created_at, updated_at`,
		id, name, description,
	).Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return r, nil
}

// DeleteRole removes the role and cascades over role_permissions and
// user_roles inside one transaction.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AssignRoleToUser adds a user/role pair. Re-adding is a no-op.
func (s *PGStore) AssignRoleToUser(ctx context.Context, userID, roleID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, roleID)
	return mapPGError(err)
}

// RevokeRoleFromUser removes a user/role pair. Removing an absent pair is a no-op.
func (s *PGStore) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// AssignPermissionToRole adds a role/permission pair idempotently.
func (s *PGStore) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return mapPGError(err)
}

// RevokePermissionFromRole removes a role/permission pair.
func (s *PGStore) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// AssignPermissionToUser adds a direct grant idempotently.
func (s *PGStore) AssignPermissionToUser(ctx context.Context, userID, permissionID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, permissionID)
	return mapPGError(err)
}

// RevokePermissionFromUser removes a direct grant.
func (s *PGStore) RevokePermissionFromUser(ctx context.Context, userID, permissionID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	return err
}

// ToggleRolePermission flips the pair and reports whether it is now granted.
func (s *PGStore) ToggleRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	return s.togglePair(ctx, "role_permissions", "role_id", roleID, permissionID)
}

// ToggleUserPermission flips a direct grant and reports whether it is now granted.
func (s *PGStore) ToggleUserPermission(ctx context.Context, userID, permissionID int64) (bool, error) {
	return s.togglePair(ctx, "user_permissions", "user_id", userID, permissionID)
}

func (s *PGStore) togglePair(ctx context.Context, table, ownerCol string, ownerID, permissionID int64) (bool, error) {
	granted := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE `+ownerCol+` = $1 AND permission_id = $2`,
			ownerID, permissionID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			granted = false
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+table+` (`+ownerCol+`, permission_id) VALUES ($1, $2)`,
			ownerID, permissionID); err != nil {
			return mapPGError(err)
		}
		granted = true
		return nil
	})
	return granted, err
}

// SyncRolePermissions replaces the role's permission set with exactly the
// given ids using delete-then-insert semantics. The role edit form submits a
// complete desired-state list, not a diff. A single stale id aborts the
// whole batch before anything is written.
func (s *PGStore) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	unique := make([]int64, 0, len(permissionIDs))
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		if len(unique) > 0 {
			var known int64
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1)`, unique).Scan(&known); err != nil {
				return err
			}
			if known != int64(len(unique)) {
				return ErrNotFound
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, id := range unique {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
				roleID, id); err != nil {
				return mapPGError(err)
			}
		}
		return nil
	})
}

// UserRoles returns the roles the user directly holds. Roles do not inherit
// from other roles.
func (s *PGStore) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.slug, r.name, r.description, r.created_at, r.updated_at
		 FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 ORDER BY r.slug`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// UserPermissionSlugs returns the deduplicated union of role-derived and
// direct permission slugs. Grant rows whose permission no longer exists in
// the catalog simply drop out of the join.
func (s *PGStore) UserPermissionSlugs(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.slug FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1
		 UNION
		 SELECT p.slug FROM permissions p
		 JOIN user_permissions up ON up.permission_id = p.id
		 WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// RolePermissions returns the permissions attached to a role.
func (s *PGStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.slug, p.name, p.description
		 FROM permissions p JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1 ORDER BY p.slug`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// RoleHolderIDs returns the ids of every user currently holding the role.
// Used for cache invalidation fan-out after role-level mutations.
func (s *PGStore) RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FirstMasterID returns the earliest-created user holding the admin role,
// falling back to the earliest-created user when no admin assignment exists
// yet (fresh bootstrap).
func (s *PGStore) FirstMasterID(ctx context.Context) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT u.id FROM users u
		 JOIN user_roles ur ON ur.user_id = u.id
		 JOIN roles r ON r.id = ur.role_id AND r.slug = $1
		 ORDER BY u.created_at, u.id LIMIT 1`, AdminRoleSlug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	err = s.pool.QueryRow(ctx, `SELECT id FROM users ORDER BY created_at, id LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateSlug
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

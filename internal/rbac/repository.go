package rbac

import "context"

// Store defines persistence for the permission/role catalogs and the three
// grant relations. Mutations are synchronous and either fully applied or not
// applied at all; cascading deletes run inside a single transaction.
type Store interface {
	// Permission catalog.
	CreatePermission(ctx context.Context, slug, name, description string) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionBySlug(ctx context.Context, slug string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error)
	// DeletePermission removes the permission and every grant row
	// referencing it (role and direct grants alike).
	DeletePermission(ctx context.Context, id int64) error

	// Role catalog.
	CreateRole(ctx context.Context, slug, name, description string) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleBySlug(ctx context.Context, slug string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	// DeleteRole removes the role, its permission assignments and every
	// user membership in it.
	DeleteRole(ctx context.Context, id int64) error

	// Grant relations. Assign/Revoke are idempotent; Toggle flips the pair
	// and reports whether it exists afterwards.
	AssignRoleToUser(ctx context.Context, userID, roleID int64) error
	RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error
	AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error
	RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) error
	AssignPermissionToUser(ctx context.Context, userID, permissionID int64) error
	RevokePermissionFromUser(ctx context.Context, userID, permissionID int64) error
	ToggleRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	ToggleUserPermission(ctx context.Context, userID, permissionID int64) (bool, error)
	// SyncRolePermissions replaces the role's permission set with exactly
	// the given ids. Any unknown id aborts the whole batch with ErrNotFound.
	SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	// Resolution reads.
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserPermissionSlugs(ctx context.Context, userID int64) ([]string, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error)
	// FirstMasterID identifies the permanently protected original
	// administrator: the earliest-created user holding the admin role,
	// falling back to the earliest-created user before bootstrap completes.
	FirstMasterID(ctx context.Context) (int64, error)
}

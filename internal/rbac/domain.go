package rbac

import "time"

// AdminRoleSlug is the reserved role slug with platform-wide wildcard semantics.
const AdminRoleSlug = "admin"

// Permission represents an atomic capability identified by a unique slug.
type Permission struct {
	ID          int64
	Slug        string
	Name        string
	Description string
}

// Role represents a named bundle of permissions assignable to users.
type Role struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether this role carries the reserved admin semantics.
func (r Role) IsAdmin() bool {
	return r.Slug == AdminRoleSlug
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// UserPermission is a direct grant, independent of any role.
type UserPermission struct {
	UserID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// Principal describes the authenticated actor as seen by the engine.
// AdminFlagged reports the is_admin attribute on the account record. It is
// one of two independent paths to admin status, the other being membership
// in the admin role; the resolver ORs them together.
type Principal interface {
	GetID() int64
	AdminFlagged() bool
}

// SubjectID is a bare user id usable wherever a Principal is required but
// only the identity matters. Role membership still applies for admin checks.
type SubjectID int64

// GetID returns the wrapped user id.
func (s SubjectID) GetID() int64 { return int64(s) }

// AdminFlagged always reports false.
func (s SubjectID) AdminFlagged() bool { return false }

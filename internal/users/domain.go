package users

import "time"

// User represents an account in the survey administration platform.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetID implements rbac.Principal.
func (u *User) GetID() int64 { return u.ID }

// AdminFlagged implements rbac.Principal: the is_admin attribute path to
// admin status, independent of admin role membership.
func (u *User) AdminFlagged() bool { return u.IsAdmin }

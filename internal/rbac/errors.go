package rbac

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a referenced permission, role or user does not
// exist at the time of a grant mutation. No partial write occurs.
var ErrNotFound = errors.New("rbac: not found")

// ErrDuplicateSlug indicates a permission or role slug is already in use.
// Slugs are globally unique and immutable once referenced by a grant.
var ErrDuplicateSlug = errors.New("rbac: slug already in use")

// Violation kinds. Each mutation-guard rule signals a distinct kind so the
// caller can render a precise refusal instead of a generic failure.
var (
	// ErrSelfDemotion: an actor attempted to change their own roles or
	// direct permissions. Applies to every user, admins included.
	ErrSelfDemotion = errors.New("rbac: cannot change own roles or permissions")
	// ErrProtectedAccount: the first-master account cannot be deleted, and
	// cannot be edited by a non-admin actor.
	ErrProtectedAccount = errors.New("rbac: account is protected")
	// ErrUnauthorizedAdminGrant: only admins may grant or revoke the admin role.
	ErrUnauthorizedAdminGrant = errors.New("rbac: admin role changes require an admin actor")
)

// InvariantViolation is the structured refusal returned by the mutation
// guard. It wraps one of the violation sentinels so callers can branch with
// errors.Is while still receiving actor/target detail for rendering.
type InvariantViolation struct {
	Rule    error
	ActorID int64
	UserID  int64
	Detail  string
}

func (v *InvariantViolation) Error() string {
	if v.Detail != "" {
		return fmt.Sprintf("%s: %s", v.Rule.Error(), v.Detail)
	}
	return v.Rule.Error()
}

// Unwrap exposes the rule sentinel for errors.Is.
func (v *InvariantViolation) Unwrap() error {
	return v.Rule
}

func violation(rule error, actorID, userID int64, detail string) error {
	return &InvariantViolation{Rule: rule, ActorID: actorID, UserID: userID, Detail: detail}
}

package rbac

import (
	"context"
	"errors"
	"fmt"
)

// Guard enforces the mutation invariants before the store is touched,
// refusing illegal operations with a typed violation instead of a partial
// write. Admin status bypasses per-action permission checks, not these
// rules: every rule below applies to admins too unless stated otherwise.
type Guard struct {
	store    Store
	resolver *Resolver
}

// NewGuard constructs a Guard.
func NewGuard(store Store, resolver *Resolver) *Guard {
	return &Guard{store: store, resolver: resolver}
}

// CheckGrantMutation enforces the self-demotion rule: no user may modify
// their own roles or direct permissions, admin or not. A privileged other
// admin must perform the change.
func (g *Guard) CheckGrantMutation(actor Principal, targetUserID int64) error {
	if actor.GetID() == targetUserID {
		return violation(ErrSelfDemotion, actor.GetID(), targetUserID, "")
	}
	return nil
}

// CheckAdminRoleChange refuses assigning or removing the admin role by a
// non-admin actor. Other roles in the same request are unaffected; handlers
// pre-filter with FilterAssignable to honor the rest of a batch.
func (g *Guard) CheckAdminRoleChange(ctx context.Context, actor Principal, role Role) error {
	if !role.IsAdmin() {
		return nil
	}
	admin, err := g.resolver.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return violation(ErrUnauthorizedAdminGrant, actor.GetID(), 0, fmt.Sprintf("role %q", role.Slug))
	}
	return nil
}

// CheckUserEdit refuses edits to the first-master account by any actor that
// is neither the account itself nor an administrator.
func (g *Guard) CheckUserEdit(ctx context.Context, actor Principal, targetUserID int64) error {
	master, err := g.isFirstMaster(ctx, targetUserID)
	if err != nil {
		return err
	}
	if !master {
		return nil
	}
	if actor.GetID() == targetUserID {
		return nil
	}
	admin, err := g.resolver.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return violation(ErrProtectedAccount, actor.GetID(), targetUserID, "first master account")
	}
	return nil
}

// CheckUserDelete refuses deleting the first-master account regardless of
// who the actor is, other admins included.
func (g *Guard) CheckUserDelete(ctx context.Context, actor Principal, targetUserID int64) error {
	master, err := g.isFirstMaster(ctx, targetUserID)
	if err != nil {
		return err
	}
	if master {
		return violation(ErrProtectedAccount, actor.GetID(), targetUserID, "first master account cannot be deleted")
	}
	return nil
}

// FilterAssignable splits the requested roles into the ones the actor may
// assign and the ones refused by the admin-grant rule. Callers submitting a
// role batch use this to reject only the illegal entries while honoring the
// rest, and must report the refused entries to the requester.
func (g *Guard) FilterAssignable(ctx context.Context, actor Principal, roles []Role) (allowed, refused []Role, err error) {
	for _, role := range roles {
		if err := g.CheckAdminRoleChange(ctx, actor, role); err != nil {
			if errors.Is(err, ErrUnauthorizedAdminGrant) {
				refused = append(refused, role)
				continue
			}
			return nil, nil, err
		}
		allowed = append(allowed, role)
	}
	return allowed, refused, nil
}

func (g *Guard) isFirstMaster(ctx context.Context, userID int64) (bool, error) {
	masterID, err := g.store.FirstMasterID(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return masterID == userID, nil
}

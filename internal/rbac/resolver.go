package rbac

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Metrics receives authorization decision and cache outcome counters.
// Implemented by internal/observability; a nil value disables recording.
type Metrics interface {
	AuthzDecision(outcome string)
	CacheLookup(hit bool)
}

// Decision outcomes reported to Metrics.
const (
	DecisionAllow    = "allow"
	DecisionDeny     = "deny"
	DecisionWildcard = "wildcard"
)

// Resolver answers permission and role membership queries for a user by
// combining direct grants and role-inherited grants, with cache assistance.
type Resolver struct {
	store   Store
	cache   *Cache
	logger  *slog.Logger
	metrics Metrics
	group   singleflight.Group
}

// NewResolver constructs a Resolver. cache and metrics may be nil.
func NewResolver(store Store, cache *Cache, logger *slog.Logger, metrics Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: cache, logger: logger, metrics: metrics}
}

// IsAdmin reports whether the principal is an administrator: true when the
// account carries the is_admin attribute OR the user holds the admin role.
// The two signals are independent legacy paths and both must keep working.
func (r *Resolver) IsAdmin(ctx context.Context, p Principal) (bool, error) {
	if p.AdminFlagged() {
		return true, nil
	}
	roles, err := r.store.UserRoles(ctx, p.GetID())
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.IsAdmin() {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether the principal may exercise the permission
// slug. Administrators satisfy every check, including slugs that were never
// created in the catalog; the wildcard is a branch here, never a member of
// the materialized set. Non-admins fall through to set membership, so an
// unknown slug is simply denied.
func (r *Resolver) HasPermission(ctx context.Context, p Principal, slug string) (bool, error) {
	admin, err := r.IsAdmin(ctx, p)
	if err != nil {
		return false, err
	}
	if admin {
		r.record(DecisionWildcard)
		return true, nil
	}
	slugs, err := r.UserPermissions(ctx, p)
	if err != nil {
		return false, err
	}
	for _, s := range slugs {
		if s == slug {
			r.record(DecisionAllow)
			return true, nil
		}
	}
	r.record(DecisionDeny)
	return false, nil
}

// UserPermissions returns the full effective slug set, the deduplicated
// union of direct grants and grants of every role held. For administrators
// this is the explicit union, not "all slugs": callers needing the wildcard
// guarantee must use HasPermission. A user with no grants yields an empty
// set, not an error.
func (r *Resolver) UserPermissions(ctx context.Context, p Principal) ([]string, error) {
	userID := p.GetID()
	if cached, ok, err := r.cache.Get(ctx, userID); err != nil {
		// A broken cache degrades to a store read; correctness is unaffected.
		r.logger.Warn("rbac: cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
	} else if ok {
		if r.metrics != nil {
			r.metrics.CacheLookup(true)
		}
		return cached, nil
	}
	if r.metrics != nil {
		r.metrics.CacheLookup(false)
	}

	// Collapse concurrent misses for the same user into one store read.
	v, err, _ := r.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		slugs, err := r.store.UserPermissionSlugs(ctx, userID)
		if err != nil {
			return nil, err
		}
		if slugs == nil {
			slugs = []string{}
		}
		if err := r.cache.Put(ctx, userID, slugs); err != nil {
			r.logger.Warn("rbac: cache write failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return slugs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// UserRoles returns the slugs of the roles the user directly holds. There is
// no transitive role hierarchy.
func (r *Resolver) UserRoles(ctx context.Context, p Principal) ([]string, error) {
	roles, err := r.store.UserRoles(ctx, p.GetID())
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(roles))
	for _, role := range roles {
		slugs = append(slugs, role.Slug)
	}
	return slugs, nil
}

// HasRole reports whether the user holds a role matching the identifier by
// slug or by display name, case-sensitive on either field. The dual match
// predates this engine and is kept for legacy lookups by either key.
func (r *Resolver) HasRole(ctx context.Context, p Principal, identifier string) (bool, error) {
	roles, err := r.store.UserRoles(ctx, p.GetID())
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Slug == identifier || role.Name == identifier {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) record(outcome string) {
	if r.metrics != nil {
		r.metrics.AuthzDecision(outcome)
	}
}

package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vitalis-health/vitalis/internal/audit"
)

// Service is the engine's mutation entry point. Every write runs the guard
// first, then the store, then invalidates the resolution cache for every
// affected user before returning, so a read issued right after a mutation in
// the same request observes it. Refused mutations are recorded as security
// alerts in the audit log.
type Service struct {
	store    Store
	cache    *Cache
	resolver *Resolver
	guard    *Guard
	sink     audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service. sink may be nil.
func NewService(store Store, cache *Cache, resolver *Resolver, guard *Guard, sink audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, resolver: resolver, guard: guard, sink: sink, logger: logger}
}

// Resolver exposes the read side of the engine.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Guard exposes the invariant checks for collaborators that mutate user
// records outside this service (account edit and delete paths).
func (s *Service) Guard() *Guard { return s.guard }

// CreatePermission registers a new permission. An empty slug is derived from
// the display name.
func (s *Service) CreatePermission(ctx context.Context, actor Principal, slug, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	if strings.TrimSpace(slug) == "" {
		slug = Slugify(name)
	}
	perm, err := s.store.CreatePermission(ctx, slug, name, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actor, "permission.create", "permission", perm.ID, map[string]any{"slug": perm.Slug}, false)
	return perm, nil
}

// UpdatePermission changes name and description. Slugs are immutable once
// created; renaming would orphan existing grants.
func (s *Service) UpdatePermission(ctx context.Context, actor Principal, id int64, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, errors.New("rbac: permission name required")
	}
	perm, err := s.store.UpdatePermission(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actor, "permission.update", "permission", perm.ID, nil, false)
	return perm, nil
}

// DeletePermission removes a permission and every grant referencing it, then
// flushes the whole resolution cache: enumerating the affected users would
// cost more than the flush.
func (s *Service) DeletePermission(ctx context.Context, actor Principal, id int64) error {
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	s.record(ctx, actor, "permission.delete", "permission", id, nil, false)
	return nil
}

// CreateRole registers a new role. Creating the reserved admin role is
// itself an admin-only operation.
func (s *Service) CreateRole(ctx context.Context, actor Principal, slug, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	if strings.TrimSpace(slug) == "" {
		slug = Slugify(name)
	}
	if err := s.guard.CheckAdminRoleChange(ctx, actor, Role{Slug: slug}); err != nil {
		s.recordRefusal(ctx, actor, "role.create", err)
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, slug, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.create", "role", role.ID, map[string]any{"slug": role.Slug}, false)
	return role, nil
}

// UpdateRole changes name and description of an existing role.
func (s *Service) UpdateRole(ctx context.Context, actor Principal, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	role, err := s.store.UpdateRole(ctx, id, name, strings.TrimSpace(description))
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "role.update", "role", role.ID, nil, false)
	return role, nil
}

// DeleteRole removes a role, its permission assignments and every user
// membership, then flushes the resolution cache.
func (s *Service) DeleteRole(ctx context.Context, actor Principal, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.guard.CheckAdminRoleChange(ctx, actor, role); err != nil {
		s.recordRefusal(ctx, actor, "role.delete", err)
		return err
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	s.record(ctx, actor, "role.delete", "role", id, map[string]any{"slug": role.Slug}, false)
	return nil
}

// AssignRole grants a role to a user. Non-admin admin grants and
// self-assignment are refused before anything is written; the admin-grant
// check runs first so a non-admin touching the admin role is refused for
// that reason even when the target is themself.
func (s *Service) AssignRole(ctx context.Context, actor Principal, userID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.guard.CheckAdminRoleChange(ctx, actor, role); err != nil {
		s.recordRefusal(ctx, actor, "role.assign", err)
		return err
	}
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "role.assign", err)
		return err
	}
	if err := s.store.AssignRoleToUser(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "role.assign", "user", userID, map[string]any{"role": role.Slug}, false)
	return nil
}

// AssignRoles grants a batch of roles to a user. Entries refused by the
// admin-grant rule are skipped and reported back; the remainder is applied,
// so a manager submitting a role set that includes admin still gets the
// ordinary roles through. Self-assignment refuses the whole batch.
func (s *Service) AssignRoles(ctx context.Context, actor Principal, userID int64, roleIDs []int64) (assigned, refused []Role, err error) {
	roles := make([]Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := s.store.GetRole(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		roles = append(roles, role)
	}
	allowed, refused, err := s.guard.FilterAssignable(ctx, actor, roles)
	if err != nil {
		return nil, nil, err
	}
	for _, role := range refused {
		s.recordRefusal(ctx, actor, "role.assign", violation(ErrUnauthorizedAdminGrant, actor.GetID(), userID, "role "+strconv.Quote(role.Slug)))
	}
	if len(allowed) == 0 {
		return nil, refused, nil
	}
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "role.assign", err)
		return nil, refused, err
	}
	slugs := make([]string, 0, len(allowed))
	for _, role := range allowed {
		if err := s.store.AssignRoleToUser(ctx, userID, role.ID); err != nil {
			return assigned, refused, err
		}
		assigned = append(assigned, role)
		slugs = append(slugs, role.Slug)
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "role.assign", "user", userID, map[string]any{"roles": strings.Join(slugs, ",")}, false)
	return assigned, refused, nil
}

// RemoveRole revokes a role from a user under the same invariants as AssignRole.
func (s *Service) RemoveRole(ctx context.Context, actor Principal, userID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.guard.CheckAdminRoleChange(ctx, actor, role); err != nil {
		s.recordRefusal(ctx, actor, "role.remove", err)
		return err
	}
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "role.remove", err)
		return err
	}
	if err := s.store.RevokeRoleFromUser(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "role.remove", "user", userID, map[string]any{"role": role.Slug}, false)
	return nil
}

// GrantPermission adds a direct grant to a user.
func (s *Service) GrantPermission(ctx context.Context, actor Principal, userID, permissionID int64) error {
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "permission.grant", err)
		return err
	}
	if err := s.store.AssignPermissionToUser(ctx, userID, permissionID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "permission.grant", "user", userID, map[string]any{"permission_id": permissionID}, false)
	return nil
}

// RevokePermission removes a direct grant from a user.
func (s *Service) RevokePermission(ctx context.Context, actor Principal, userID, permissionID int64) error {
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "permission.revoke", err)
		return err
	}
	if err := s.store.RevokePermissionFromUser(ctx, userID, permissionID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "permission.revoke", "user", userID, map[string]any{"permission_id": permissionID}, false)
	return nil
}

// ToggleUserPermission flips a direct grant and reports whether it is now
// granted. Used by the interactive permission matrix.
func (s *Service) ToggleUserPermission(ctx context.Context, actor Principal, userID, permissionID int64) (bool, error) {
	if err := s.guard.CheckGrantMutation(actor, userID); err != nil {
		s.recordRefusal(ctx, actor, "permission.toggle", err)
		return false, err
	}
	granted, err := s.store.ToggleUserPermission(ctx, userID, permissionID)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actor, "permission.toggle", "user", userID, map[string]any{"permission_id": permissionID, "granted": granted}, false)
	return granted, nil
}

// ToggleRolePermission flips a role/permission pair and fans the cache
// invalidation out to every user currently holding the role.
func (s *Service) ToggleRolePermission(ctx context.Context, actor Principal, roleID, permissionID int64) (bool, error) {
	granted, err := s.store.ToggleRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return false, err
	}
	s.invalidateRole(ctx, roleID)
	s.record(ctx, actor, "role.permission.toggle", "role", roleID, map[string]any{"permission_id": permissionID, "granted": granted}, false)
	return granted, nil
}

// SyncRolePermissions replaces the role's permission set with exactly the
// submitted ids, all-or-nothing, then fans the invalidation out to holders.
func (s *Service) SyncRolePermissions(ctx context.Context, actor Principal, roleID int64, permissionIDs []int64) error {
	if err := s.store.SyncRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	s.invalidateRole(ctx, roleID)
	s.record(ctx, actor, "role.permission.sync", "role", roleID, map[string]any{"count": len(permissionIDs)}, false)
	return nil
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// RolePermissions returns the permissions attached to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.store.RolePermissions(ctx, roleID)
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Error("rbac: cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateRole(ctx context.Context, roleID int64) {
	holders, err := s.store.RoleHolderIDs(ctx, roleID)
	if err != nil {
		s.logger.Error("rbac: holder lookup, flushing cache instead", slog.Int64("role_id", roleID), slog.Any("error", err))
		s.invalidateAll(ctx)
		return
	}
	if err := s.cache.InvalidateMany(ctx, holders); err != nil {
		s.logger.Error("rbac: cache fan-out", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Error("rbac: cache flush", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor Principal, action, entity string, entityID int64, meta map[string]any, alert bool) {
	if s.sink == nil {
		return
	}
	entry := audit.Entry{
		ActorID:       actor.GetID(),
		Action:        "rbac." + action,
		Entity:        entity,
		EntityID:      strconv.FormatInt(entityID, 10),
		Meta:          meta,
		SecurityAlert: alert,
	}
	if err := s.sink.Record(ctx, entry); err != nil {
		s.logger.Error("rbac: audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func (s *Service) recordRefusal(ctx context.Context, actor Principal, action string, cause error) {
	var v *InvariantViolation
	if !errors.As(cause, &v) {
		return
	}
	s.record(ctx, actor, action+".refused", "user", v.UserID, map[string]any{"rule": v.Rule.Error(), "detail": v.Detail}, true)
}

package rbac

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-health/vitalis/internal/audit"
)

type recorderStub struct {
	entries []audit.Entry
}

func (r *recorderStub) Record(_ context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorderStub) alerts() []audit.Entry {
	var out []audit.Entry
	for _, e := range r.entries {
		if e.SecurityAlert {
			out = append(out, e)
		}
	}
	return out
}

type engineFixture struct {
	store    *memoryStore
	cache    *Cache
	resolver *Resolver
	service  *Service
	sink     *recorderStub
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	cache := NewCache(client, 0)
	resolver := NewResolver(store, cache, nil, nil)
	guard := NewGuard(store, resolver)
	sink := &recorderStub{}
	return &engineFixture{
		store:    store,
		cache:    cache,
		resolver: resolver,
		service:  NewService(store, cache, resolver, guard, sink, nil),
		sink:     sink,
	}
}

func TestRevocationVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	userID, view, _, nurses := seedCatalog(t, f.store)
	require.NoError(t, f.store.AssignPermissionToRole(ctx, nurses.ID, view.ID))
	require.NoError(t, f.service.AssignRole(ctx, admin, userID, nurses.ID))

	subject := testActor{id: userID}
	ok, err := f.resolver.HasPermission(ctx, subject, view.Slug)
	require.NoError(t, err)
	require.True(t, ok)

	// The resolved set is now cached; removal must not serve the stale view.
	require.NoError(t, f.service.RemoveRole(ctx, admin, userID, nurses.ID))
	ok, err = f.resolver.HasPermission(ctx, subject, view.Slug)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	userID, view, _, nurses := seedCatalog(t, f.store)
	require.NoError(t, f.store.AssignPermissionToRole(ctx, nurses.ID, view.ID))
	require.NoError(t, f.service.AssignRole(ctx, admin, userID, nurses.ID))

	subject := testActor{id: userID}
	slugs, err := f.resolver.UserPermissions(ctx, subject)
	require.NoError(t, err)
	require.Equal(t, []string{"leitos.view"}, slugs)

	require.NoError(t, f.service.DeleteRole(ctx, admin, nurses.ID))

	_, err = f.store.GetRole(ctx, nurses.ID)
	require.ErrorIs(t, err, ErrNotFound)
	roles, err := f.resolver.UserRoles(ctx, subject)
	require.NoError(t, err)
	require.Empty(t, roles)
	slugs, err = f.resolver.UserPermissions(ctx, subject)
	require.NoError(t, err)
	require.Empty(t, slugs)
}

func TestDeletePermissionCascades(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	userID, view, _, nurses := seedCatalog(t, f.store)
	require.NoError(t, f.store.AssignPermissionToRole(ctx, nurses.ID, view.ID))
	require.NoError(t, f.service.AssignRole(ctx, admin, userID, nurses.ID))
	require.NoError(t, f.service.GrantPermission(ctx, admin, userID, view.ID))

	subject := testActor{id: userID}
	ok, err := f.resolver.HasPermission(ctx, subject, view.Slug)
	require.NoError(t, err)
	require.True(t, ok)

	// Removing the catalog entry strips both the direct grant and the role
	// grant in one sweep.
	require.NoError(t, f.service.DeletePermission(ctx, admin, view.ID))
	ok, err = f.resolver.HasPermission(ctx, subject, view.Slug)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestToggleUserPermissionFlips(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	userID, view, _, _ := seedCatalog(t, f.store)

	granted, err := f.service.ToggleUserPermission(ctx, admin, userID, view.ID)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = f.service.ToggleUserPermission(ctx, admin, userID, view.ID)
	require.NoError(t, err)
	require.False(t, granted)

	slugs, err := f.resolver.UserPermissions(ctx, testActor{id: userID})
	require.NoError(t, err)
	require.Empty(t, slugs)
}

func TestToggleRolePermissionFansOutToHolders(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	userA, view, _, nurses := seedCatalog(t, f.store)
	userB := f.store.addUser()
	require.NoError(t, f.service.AssignRole(ctx, admin, userA, nurses.ID))
	require.NoError(t, f.service.AssignRole(ctx, admin, userB, nurses.ID))

	// Warm both caches with the pre-toggle view.
	for _, id := range []int64{userA, userB} {
		slugs, err := f.resolver.UserPermissions(ctx, testActor{id: id})
		require.NoError(t, err)
		require.Empty(t, slugs)
	}

	granted, err := f.service.ToggleRolePermission(ctx, admin, nurses.ID, view.ID)
	require.NoError(t, err)
	require.True(t, granted)

	for _, id := range []int64{userA, userB} {
		ok, err := f.resolver.HasPermission(ctx, testActor{id: id}, view.Slug)
		require.NoError(t, err)
		require.True(t, ok, "holder %d must see the new grant", id)
	}
}

func TestSyncRolePermissionsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	admin := testActor{id: f.store.addUser(), flagged: true}
	_, view, edit, nurses := seedCatalog(t, f.store)
	require.NoError(t, f.service.SyncRolePermissions(ctx, admin, nurses.ID, []int64{view.ID}))

	// One unknown id aborts the whole batch; the previous set survives.
	err := f.service.SyncRolePermissions(ctx, admin, nurses.ID, []int64{edit.ID, 9999})
	require.ErrorIs(t, err, ErrNotFound)
	perms, err := f.service.RolePermissions(ctx, nurses.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, view.ID, perms[0].ID)

	require.NoError(t, f.service.SyncRolePermissions(ctx, admin, nurses.ID, []int64{edit.ID}))
	perms, err = f.service.RolePermissions(ctx, nurses.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, edit.ID, perms[0].ID)
}

func TestAssignRoleRefusesSelf(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	userID, _, _, nurses := seedCatalog(t, f.store)

	err := f.service.AssignRole(ctx, testActor{id: userID, flagged: true}, userID, nurses.ID)
	require.ErrorIs(t, err, ErrSelfDemotion)
	roles, err := f.store.UserRoles(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, roles)

	alerts := f.sink.alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, "rbac.role.assign.refused", alerts[0].Action)
}

func TestAssignAdminRoleRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	adminRole, err := f.store.CreateRole(ctx, AdminRoleSlug, "Administrador", "")
	require.NoError(t, err)
	actor := testActor{id: f.store.addUser()}
	target := f.store.addUser()

	err = f.service.AssignRole(ctx, actor, target, adminRole.ID)
	require.ErrorIs(t, err, ErrUnauthorizedAdminGrant)
	roles, err := f.store.UserRoles(ctx, target)
	require.NoError(t, err)
	require.Empty(t, roles)
	require.Len(t, f.sink.alerts(), 1)

	require.NoError(t, f.service.AssignRole(ctx, testActor{id: f.store.addUser(), flagged: true}, target, adminRole.ID))
}

func TestAssignRolesBatchSplitsAdminRole(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	userID, _, _, nurses := seedCatalog(t, f.store)
	adminRole, err := f.store.CreateRole(ctx, AdminRoleSlug, "Administrador", "")
	require.NoError(t, err)

	actor := testActor{id: f.store.addUser()}
	assigned, refused, err := f.service.AssignRoles(ctx, actor, userID, []int64{nurses.ID, adminRole.ID})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	require.Equal(t, nurses.ID, assigned[0].ID)
	require.Len(t, refused, 1)
	require.Equal(t, AdminRoleSlug, refused[0].Slug)

	roles, err := f.store.UserRoles(ctx, userID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, nurses.ID, roles[0].ID)
	require.NotEmpty(t, f.sink.alerts())

	// Targeting oneself refuses the allowed remainder too.
	_, refused, err = f.service.AssignRoles(ctx, actor, actor.id, []int64{nurses.ID, adminRole.ID})
	require.ErrorIs(t, err, ErrSelfDemotion)
	require.Len(t, refused, 1)
	selfRoles, err := f.store.UserRoles(ctx, actor.id)
	require.NoError(t, err)
	require.Empty(t, selfRoles)
}

func TestSelfAdminGrantRefusedAsUnauthorized(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	userID, _, _, nurses := seedCatalog(t, f.store)
	adminRole, err := f.store.CreateRole(ctx, AdminRoleSlug, "Administrador", "")
	require.NoError(t, err)

	// A non-admin adding the admin role to themself trips both rules; the
	// admin-grant one wins.
	actor := testActor{id: userID}
	err = f.service.AssignRole(ctx, actor, userID, adminRole.ID)
	require.ErrorIs(t, err, ErrUnauthorizedAdminGrant)
	require.NotErrorIs(t, err, ErrSelfDemotion)

	// Removing one's own ordinary role is still a self-demotion.
	admin := testActor{id: f.store.addUser(), flagged: true}
	require.NoError(t, f.service.AssignRole(ctx, admin, userID, nurses.ID))
	err = f.service.RemoveRole(ctx, actor, userID, nurses.ID)
	require.ErrorIs(t, err, ErrSelfDemotion)
	roles, err := f.store.UserRoles(ctx, userID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
}

func TestCreatePermissionDerivesSlug(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)
	actor := testActor{id: f.store.addUser(), flagged: true}

	perm, err := f.service.CreatePermission(ctx, actor, "", "Leitos: Visualização", "")
	require.NoError(t, err)
	require.Equal(t, "leitos.visualizacao", perm.Slug)

	_, err = f.service.CreatePermission(ctx, actor, "leitos.visualizacao", "Outra", "")
	require.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestCreateRoleReservedSlug(t *testing.T) {
	ctx := context.Background()
	f := newEngine(t)

	_, err := f.service.CreateRole(ctx, testActor{id: f.store.addUser()}, AdminRoleSlug, "Administrador", "")
	require.ErrorIs(t, err, ErrUnauthorizedAdminGrant)

	_, err = f.service.CreateRole(ctx, testActor{id: f.store.addUser(), flagged: true}, AdminRoleSlug, "Administrador", "")
	require.NoError(t, err)
}

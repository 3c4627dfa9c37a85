package rbac

import (
	"context"
	"sort"
)

// memoryStore is an in-memory Store used across the engine tests. It mirrors
// the relational semantics: idempotent grants, existence checks before
// writes, cascades on catalog deletes.
type memoryStore struct {
	perms     map[int64]Permission
	roles     map[int64]Role
	rolePerms map[int64]map[int64]struct{}
	userRoles map[int64]map[int64]struct{}
	userPerms map[int64]map[int64]struct{}
	users     []int64
	adminSeq  []int64
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		perms:     make(map[int64]Permission),
		roles:     make(map[int64]Role),
		rolePerms: make(map[int64]map[int64]struct{}),
		userRoles: make(map[int64]map[int64]struct{}),
		userPerms: make(map[int64]map[int64]struct{}),
	}
}

type testActor struct {
	id      int64
	flagged bool
}

func (a testActor) GetID() int64       { return a.id }
func (a testActor) AdminFlagged() bool { return a.flagged }

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) addUser() int64 {
	id := m.id()
	m.users = append(m.users, id)
	return id
}

func (m *memoryStore) CreatePermission(ctx context.Context, slug, name, description string) (Permission, error) {
	for _, p := range m.perms {
		if p.Slug == slug {
			return Permission{}, ErrDuplicateSlug
		}
	}
	p := Permission{ID: m.id(), Slug: slug, Name: name, Description: description}
	m.perms[p.ID] = p
	return p, nil
}

func (m *memoryStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) GetPermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	for _, p := range m.perms {
		if p.Slug == slug {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	p.Name, p.Description = name, description
	m.perms[id] = p
	return p, nil
}

func (m *memoryStore) DeletePermission(ctx context.Context, id int64) error {
	if _, ok := m.perms[id]; !ok {
		return ErrNotFound
	}
	delete(m.perms, id)
	for _, set := range m.rolePerms {
		delete(set, id)
	}
	for _, set := range m.userPerms {
		delete(set, id)
	}
	return nil
}

func (m *memoryStore) CreateRole(ctx context.Context, slug, name, description string) (Role, error) {
	for _, r := range m.roles {
		if r.Slug == slug {
			return Role{}, ErrDuplicateSlug
		}
	}
	r := Role{ID: m.id(), Slug: slug, Name: name, Description: description}
	m.roles[r.ID] = r
	return r, nil
}

func (m *memoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memoryStore) GetRoleBySlug(ctx context.Context, slug string) (Role, error) {
	for _, r := range m.roles {
		if r.Slug == slug {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	r.Name, r.Description = name, description
	m.roles[id] = r
	return r, nil
}

func (m *memoryStore) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for _, set := range m.userRoles {
		delete(set, id)
	}
	return nil
}

func (m *memoryStore) AssignRoleToUser(ctx context.Context, userID, roleID int64) error {
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[int64]struct{})
	}
	if _, held := m.userRoles[userID][roleID]; !held && role.IsAdmin() {
		m.adminSeq = append(m.adminSeq, userID)
	}
	m.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (m *memoryStore) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error {
	delete(m.userRoles[userID], roleID)
	return nil
}

func (m *memoryStore) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	if m.rolePerms[roleID] == nil {
		m.rolePerms[roleID] = make(map[int64]struct{})
	}
	m.rolePerms[roleID][permissionID] = struct{}{}
	return nil
}

func (m *memoryStore) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	delete(m.rolePerms[roleID], permissionID)
	return nil
}

func (m *memoryStore) AssignPermissionToUser(ctx context.Context, userID, permissionID int64) error {
	if _, ok := m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	if m.userPerms[userID] == nil {
		m.userPerms[userID] = make(map[int64]struct{})
	}
	m.userPerms[userID][permissionID] = struct{}{}
	return nil
}

func (m *memoryStore) RevokePermissionFromUser(ctx context.Context, userID, permissionID int64) error {
	delete(m.userPerms[userID], permissionID)
	return nil
}

func (m *memoryStore) ToggleRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	if _, ok := m.rolePerms[roleID][permissionID]; ok {
		delete(m.rolePerms[roleID], permissionID)
		return false, nil
	}
	if err := m.AssignPermissionToRole(ctx, roleID, permissionID); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) ToggleUserPermission(ctx context.Context, userID, permissionID int64) (bool, error) {
	if _, ok := m.userPerms[userID][permissionID]; ok {
		delete(m.userPerms[userID], permissionID)
		return false, nil
	}
	if err := m.AssignPermissionToUser(ctx, userID, permissionID); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, id := range permissionIDs {
		if _, ok := m.perms[id]; !ok {
			return ErrNotFound
		}
	}
	next := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		next[id] = struct{}{}
	}
	m.rolePerms[roleID] = next
	return nil
}

func (m *memoryStore) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	out := make([]Role, 0, len(m.userRoles[userID]))
	for roleID := range m.userRoles[userID] {
		out = append(out, m.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) UserPermissionSlugs(ctx context.Context, userID int64) ([]string, error) {
	seen := make(map[string]struct{})
	for permID := range m.userPerms[userID] {
		seen[m.perms[permID].Slug] = struct{}{}
	}
	for roleID := range m.userRoles[userID] {
		for permID := range m.rolePerms[roleID] {
			seen[m.perms[permID].Slug] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for slug := range seen {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	out := make([]Permission, 0, len(m.rolePerms[roleID]))
	for permID := range m.rolePerms[roleID] {
		out = append(out, m.perms[permID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) RoleHolderIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	for userID, roles := range m.userRoles {
		if _, ok := roles[roleID]; ok {
			out = append(out, userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memoryStore) FirstMasterID(ctx context.Context) (int64, error) {
	for _, userID := range m.adminSeq {
		for roleID := range m.userRoles[userID] {
			if m.roles[roleID].IsAdmin() {
				return userID, nil
			}
		}
	}
	if len(m.users) > 0 {
		return m.users[0], nil
	}
	return 0, ErrNotFound
}

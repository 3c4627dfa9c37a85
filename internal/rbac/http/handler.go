package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vitalis-health/vitalis/internal/platform/httpx"
	"github.com/vitalis-health/vitalis/internal/rbac"
	"github.com/vitalis-health/vitalis/internal/shared"
)

// Handler exposes the role/permission administration API. Routes gate the
// controller action itself through the middleware; the actual grant
// mutations run through the rbac.Service and its guard.
type Handler struct {
	logger    *slog.Logger
	service   *rbac.Service
	validator *validator.Validate
	mw        rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), mw: mw}
}

// MountRoutes registers role and permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermRolesView, "rbac.view"))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.showRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermRolesEdit, "rbac.edit"))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/permissions", h.syncRolePermissions)
		r.Post("/roles/{id}/permissions/{permID}/toggle", h.toggleRolePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermPermissionsView, "rbac.view"))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermPermissionsEdit, "rbac.edit"))
		r.Post("/permissions", h.createPermission)
		r.Put("/permissions/{id}", h.updatePermission)
		r.Delete("/permissions/{id}", h.deletePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermUsersEdit, "rbac.edit"))
		r.Post("/users/{id}/roles/{roleID}", h.assignRole)
		r.Put("/users/{id}/roles", h.assignRoles)
		r.Delete("/users/{id}/roles/{roleID}", h.removeRole)
		r.Post("/users/{id}/permissions/{permID}/toggle", h.toggleUserPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermUsersView, "rbac.view"))
		r.Get("/users/{id}/roles", h.userRoles)
		r.Get("/users/{id}/permissions", h.userPermissions)
	})
}

type roleForm struct {
	Slug        string `json:"slug"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type permissionForm struct {
	Slug        string `json:"slug"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type syncForm struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

type assignRolesForm struct {
	RoleIDs []int64 `json:"role_ids" validate:"required"`
}

type roleView struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type permissionView struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	views := make([]roleView, 0, len(roles))
	for _, role := range roles {
		views = append(views, toRoleView(role))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "role permissions", err)
		return
	}
	permViews := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		permViews = append(permViews, toPermissionView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": toRoleView(role), "permissions": permViews})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, form, ok := decodeForm[roleForm](h, w, r)
	if !ok {
		return
	}
	role, err := h.service.CreateRole(r.Context(), actor, form.Slug, form.Name, form.Description)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleView(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, form, ok := decodeForm[roleForm](h, w, r)
	if !ok {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actor, id, form.Name, form.Description)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), actor, id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) syncRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, form, ok := decodeForm[syncForm](h, w, r)
	if !ok {
		return
	}
	if err := h.service.SyncRolePermissions(r.Context(), actor, id, form.PermissionIDs); err != nil {
		h.fail(w, "sync role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	permID, ok := pathID(w, r, "permID")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	granted, err := h.service.ToggleRolePermission(r.Context(), actor, roleID, permID)
	if err != nil {
		h.fail(w, "toggle role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, toPermissionView(p))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	actor, form, ok := decodeForm[permissionForm](h, w, r)
	if !ok {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), actor, form.Slug, form.Name, form.Description)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionView(perm))
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, form, ok := decodeForm[permissionForm](h, w, r)
	if !ok {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), actor, id, form.Name, form.Description)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPermissionView(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), actor, id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), actor, userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// assignRoles applies a role batch. Entries hitting the admin-grant rule are
// reported in `refused` while the rest go through.
func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, form, ok := decodeForm[assignRolesForm](h, w, r)
	if !ok {
		return
	}
	assigned, refused, err := h.service.AssignRoles(r.Context(), actor, userID, form.RoleIDs)
	if err != nil {
		h.fail(w, "assign roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{
		"assigned": roleSlugs(assigned),
		"refused":  roleSlugs(refused),
	})
}

func roleSlugs(roles []rbac.Role) []string {
	slugs := make([]string, 0, len(roles))
	for _, role := range roles {
		slugs = append(slugs, role.Slug)
	}
	return slugs
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), actor, userID, roleID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	permID, ok := pathID(w, r, "permID")
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	granted, err := h.service.ToggleUserPermission(r.Context(), actor, userID, permID)
	if err != nil {
		h.fail(w, "toggle user permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	slugs, err := h.service.Resolver().UserRoles(r.Context(), rbac.SubjectID(userID))
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"roles": slugs})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	slugs, err := h.service.Resolver().UserPermissions(r.Context(), rbac.SubjectID(userID))
	if err != nil {
		h.fail(w, "user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"permissions": slugs})
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, false
	}
	return actor, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func decodeForm[T any](h *Handler, w http.ResponseWriter, r *http.Request) (rbac.Principal, T, bool) {
	var form T
	actor, ok := h.actor(w, r)
	if !ok {
		return nil, form, false
	}
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return nil, form, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return nil, form, false
	}
	return actor, form, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "")
		return 0, false
	}
	return id, true
}

func toRoleView(r rbac.Role) roleView {
	return roleView{ID: r.ID, Slug: r.Slug, Name: r.Name, Description: r.Description}
}

func toPermissionView(p rbac.Permission) permissionView {
	return permissionView{ID: p.ID, Slug: p.Slug, Name: p.Name, Description: p.Description}
}

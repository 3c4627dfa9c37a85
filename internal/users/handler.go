package users

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

// Handler manages account management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	mw        rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), mw: mw}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		// Backwards-compatible: older seeds use `rbac.view`/`rbac.edit` while the UI uses `users.*`.
		r.Use(h.mw.RequireAny(shared.PermUsersView, "rbac.view"))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.showUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermUsersEdit, "rbac.edit"))
		r.Post("/", h.createUser)
		r.Put("/{id}", h.updateUser)
		r.Put("/{id}/password", h.changePassword)
		r.Put("/{id}/status", h.setStatus)
		r.Put("/{id}/admin", h.setAdminFlag)
		r.Delete("/{id}", h.deleteUser)
	})
}

type createForm struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	IsAdmin  bool   `json:"is_admin"`
}

type profileForm struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

type passwordForm struct {
	Password string `json:"password" validate:"required,min=8"`
}

type statusForm struct {
	Active *bool `json:"active" validate:"required"`
}

type adminFlagForm struct {
	IsAdmin *bool `json:"is_admin" validate:"required"`
}

type userView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	IsActive bool   `json:"is_active"`
}

func toUserView(u *User) userView {
	return userView{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		IsAdmin:  u.IsAdmin,
		IsActive: u.IsActive,
	}
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, toUserView(&users[i]))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserView(user))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form createForm
	if !h.decode(w, r, &form) {
		return
	}
	user, err := h.service.Create(r.Context(), actor, CreateInput{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		IsAdmin:  form.IsAdmin,
	})
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserView(user))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form profileForm
	if !h.decode(w, r, &form) {
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), actor, id, form.Name, form.Email)
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserView(user))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form passwordForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), actor, id, form.Password); err != nil {
		h.fail(w, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form statusForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.SetActive(r.Context(), actor, id, *form.Active); err != nil {
		h.fail(w, "set status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setAdminFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var form adminFlagForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.SetAdminFlag(r.Context(), actor, id, *form.IsAdmin); err != nil {
		h.fail(w, "set admin flag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	actor, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return nil, false
	}
	return actor, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

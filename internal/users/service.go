package users

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vitalis-health/vitalis/internal/audit"
	"github.com/vitalis-health/vitalis/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, name, email, passwordHash string, isAdmin bool) (*User, error)
	UpdateProfile(ctx context.Context, id int64, name, email string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetAdminFlag(ctx context.Context, id int64, isAdmin bool) error
	SetActive(ctx context.Context, id int64, active bool) error
	DeleteUser(ctx context.Context, id int64) error
}

// Invalidator drops a user's resolved permission view, implemented by the
// rbac resolution cache.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// CreateInput carries the fields for a new account.
type CreateInput struct {
	Name     string
	Email    string
	Password string
	IsAdmin  bool
}

// Service handles account management under the engine's invariants.
type Service struct {
	repo   RepositoryPort
	guard  *rbac.Guard
	cache  Invalidator
	sink   audit.Recorder
	logger *slog.Logger
}

// NewService builds a Service instance. cache and sink may be nil.
func NewService(repo RepositoryPort, guard *rbac.Guard, cache Invalidator, sink audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, cache: cache, sink: sink, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser fetches one user.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// Create registers a new account. Setting the is_admin attribute at creation
// is an admin grant and follows the same rule as assigning the admin role.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, errors.New("users: name, email and password required")
	}
	if in.IsAdmin {
		if err := s.guard.CheckAdminRoleChange(ctx, actor, rbac.Role{Slug: rbac.AdminRoleSlug}); err != nil {
			s.recordRefusal(ctx, actor, "user.create", err)
			return nil, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.CreateUser(ctx, in.Name, in.Email, string(hash), in.IsAdmin)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "user.create", user.ID, map[string]any{"email": user.Email, "is_admin": user.IsAdmin}, false)
	return user, nil
}

// UpdateProfile changes name and email. Editing one's own profile is always
// allowed; the first-master account accepts edits only from itself or an admin.
func (s *Service) UpdateProfile(ctx context.Context, actor rbac.Principal, id int64, name, email string) (*User, error) {
	if err := s.guard.CheckUserEdit(ctx, actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.update", err)
		return nil, err
	}
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" {
		return nil, errors.New("users: name and email required")
	}
	user, err := s.repo.UpdateProfile(ctx, id, name, email)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "user.update", id, nil, false)
	return user, nil
}

// ChangePassword replaces the account password.
func (s *Service) ChangePassword(ctx context.Context, actor rbac.Principal, id int64, password string) error {
	if err := s.guard.CheckUserEdit(ctx, actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.password", err)
		return err
	}
	if password == "" {
		return errors.New("users: password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
		return err
	}
	s.record(ctx, actor, "user.password", id, nil, false)
	return nil
}

// SetAdminFlag flips the is_admin attribute. Changing one's own flag is
// self-demotion territory, and granting it requires an admin actor.
func (s *Service) SetAdminFlag(ctx context.Context, actor rbac.Principal, id int64, isAdmin bool) error {
	if err := s.guard.CheckGrantMutation(actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.admin_flag", err)
		return err
	}
	if err := s.guard.CheckAdminRoleChange(ctx, actor, rbac.Role{Slug: rbac.AdminRoleSlug}); err != nil {
		s.recordRefusal(ctx, actor, "user.admin_flag", err)
		return err
	}
	if err := s.repo.SetAdminFlag(ctx, id, isAdmin); err != nil {
		return err
	}
	s.record(ctx, actor, "user.admin_flag", id, map[string]any{"is_admin": isAdmin}, false)
	return nil
}

// SetActive activates or deactivates an account. Deactivating oneself is
// refused, as is touching the first master as a non-admin.
func (s *Service) SetActive(ctx context.Context, actor rbac.Principal, id int64, active bool) error {
	if !active {
		if err := s.guard.CheckGrantMutation(actor, id); err != nil {
			s.recordRefusal(ctx, actor, "user.status", err)
			return err
		}
	}
	if err := s.guard.CheckUserEdit(ctx, actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.status", err)
		return err
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.record(ctx, actor, "user.status", id, map[string]any{"active": active}, false)
	return nil
}

// Delete removes an account along with its grant rows. The first master is
// never deletable, by anyone.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.guard.CheckGrantMutation(actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.delete", err)
		return err
	}
	if err := s.guard.CheckUserDelete(ctx, actor, id); err != nil {
		s.recordRefusal(ctx, actor, "user.delete", err)
		return err
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Error("users: cache invalidate", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	s.record(ctx, actor, "user.delete", id, nil, false)
	return nil
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, action string, targetID int64, meta map[string]any, alert bool) {
	if s.sink == nil {
		return
	}
	entry := audit.Entry{
		ActorID:       actor.GetID(),
		Action:        action,
		Entity:        "user",
		EntityID:      strconv.FormatInt(targetID, 10),
		Meta:          meta,
		SecurityAlert: alert,
	}
	if err := s.sink.Record(ctx, entry); err != nil {
		s.logger.Error("users: audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordRefusal(ctx context.Context, actor rbac.Principal, action string, cause error) {
	var v *rbac.InvariantViolation
	if !errors.As(cause, &v) {
		return
	}
	s.record(ctx, actor, action+".refused", v.UserID, map[string]any{"rule": v.Rule.Error()}, true)
}

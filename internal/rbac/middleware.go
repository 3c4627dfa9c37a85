package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vitalis-health/vitalis/internal/shared"
)

// PrincipalSource resolves a session user id into a Principal, implemented
// by the users repository.
type PrincipalSource interface {
	FindPrincipal(ctx context.Context, id int64) (Principal, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated actor in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the authenticated actor from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Middleware wires authorization helpers for HTTP handlers. Gate failures
// answer with a bare 403: which permission was missing is never disclosed.
type Middleware struct {
	Resolver *Resolver
	Users    PrincipalSource
	Logger   *slog.Logger
}

// RequireAuthenticated resolves the session into a Principal and stores it
// in the request context. Requests without a valid session get 401.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || !sess.Authenticated() {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		p, err := m.Users.FindPrincipal(r.Context(), sess.UserID)
		if err != nil {
			m.logError("resolve principal", err)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireAny ensures the current user has at least one of the required
// permissions. Administrators pass every gate.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.gate(perms, func(granted map[string]struct{}, required []string) bool {
		for _, p := range required {
			if _, ok := granted[p]; ok {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.gate(perms, func(granted map[string]struct{}, required []string) bool {
		for _, p := range required {
			if _, ok := granted[p]; !ok {
				return false
			}
		}
		return true
	})
}

func (m Middleware) gate(perms []string, pass func(map[string]struct{}, []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			admin, err := m.Resolver.IsAdmin(r.Context(), actor)
			if err != nil {
				m.logError("admin check", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if admin {
				next.ServeHTTP(w, r)
				return
			}
			slugs, err := m.Resolver.UserPermissions(r.Context(), actor)
			if err != nil {
				m.logError("permission lookup", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			granted := make(map[string]struct{}, len(slugs))
			for _, s := range slugs {
				granted[s] = struct{}{}
			}
			if pass(granted, perms) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error("rbac "+msg, slog.Any("error", err))
	}
}

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vitalis-health/vitalis/internal/auth"
	"github.com/vitalis-health/vitalis/internal/shared"
	"github.com/vitalis-health/vitalis/internal/users"
	_ "github.com/vitalis-health/vitalis/testing"
)

type stubRepo struct {
	user *users.User
}

func (s *stubRepo) FindByEmail(context.Context, string) (*users.User, error) {
	if s.user == nil {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func newAuthRouter(t *testing.T, repo auth.Repository) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)

	handler := auth.NewHandler(nil, auth.NewService(repo), sessions)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	handler.MountRoutes(r)
	return r
}

func TestLoginSetsSessionCookie(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correta123"), bcrypt.MinCost)
	require.NoError(t, err)
	router := newAuthRouter(t, &stubRepo{user: &users.User{
		ID: 1, Email: "ana@vitalis.local", PasswordHash: string(hashed), IsActive: true,
	}})

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"email":"ana@vitalis.local","password":"correta123"}`)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", body))

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, "test_session", cookies[0].Name)
	require.NotEmpty(t, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
}

func TestLoginInvalidCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("correta123"), bcrypt.MinCost)
	require.NoError(t, err)
	router := newAuthRouter(t, &stubRepo{user: &users.User{
		ID: 1, Email: "ana@vitalis.local", PasswordHash: string(hashed), IsActive: true,
	}})

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"email":"ana@vitalis.local","password":"errada"}`)
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Result().Cookies())
}

func TestLoginValidation(t *testing.T) {
	router := newAuthRouter(t, &stubRepo{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"not-an-email"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	router := newAuthRouter(t, &stubRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "abc"})
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, -1, cookies[0].MaxAge)
}

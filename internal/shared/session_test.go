package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	sm := newTestSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, sess.Authenticated())

	sess.Authenticate(42)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "test_session", cookies[0].Name)
	require.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	// A follow-up request with the cookie resolves to the same user.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.True(t, loaded.Authenticated())
	require.Equal(t, int64(42), loaded.UserID)
}

func TestSessionDestroy(t *testing.T) {
	ctx := context.Background()
	sm := newTestSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.Authenticate(7)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	cookie := rec.Result().Cookies()[0]

	sess.Destroy()
	require.False(t, sess.Authenticated())
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)

	// The stored payload is gone; the old cookie now yields a fresh session.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, loaded.Authenticated())
}

func TestUnknownCookieYieldsFreshSession(t *testing.T) {
	ctx := context.Background()
	sm := newTestSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "stale-id"})
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.False(t, sess.Authenticated())
	require.Equal(t, "stale-id", sess.ID)
}

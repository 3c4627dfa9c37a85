package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalis-health/vitalis/internal/shared"
)

type principalStub struct {
	byID map[int64]Principal
}

func (s principalStub) FindPrincipal(_ context.Context, id int64) (Principal, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func requestWithSession(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID == 0 {
		return req
	}
	sess := &shared.Session{ID: "test", UserID: userID}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestRequireAuthenticated(t *testing.T) {
	store := newMemoryStore()
	userID := store.addUser()

	mw := Middleware{
		Resolver: NewResolver(store, NewCache(nil, 0), nil, nil),
		Users:    principalStub{byID: map[int64]Principal{userID: testActor{id: userID}}},
	}

	var seen Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw.RequireAuthenticated(next).ServeHTTP(rec, requestWithSession(userID))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, userID, seen.GetID())

	// Without a session the request never reaches the handler.
	rec = httptest.NewRecorder()
	mw.RequireAuthenticated(next).ServeHTTP(rec, requestWithSession(0))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// A session pointing at a vanished account is equally unauthorized.
	rec = httptest.NewRecorder()
	mw.RequireAuthenticated(next).ServeHTTP(rec, requestWithSession(999))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAnyGate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	userID, view, _, _ := seedCatalog(t, store)
	require.NoError(t, store.AssignPermissionToUser(ctx, userID, view.ID))

	mw := Middleware{Resolver: NewResolver(store, NewCache(nil, 0), nil, nil)}
	gate := mw.RequireAny("leitos.view", "leitos.edit")(okHandler())

	serve := func(p Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, serve(testActor{id: userID}).Code)

	// A user with neither permission gets a bare 403 that does not name
	// the missing permission.
	stranger := store.addUser()
	rec := serve(testActor{id: stranger})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NotContains(t, rec.Body.String(), "leitos")
	require.Equal(t, http.StatusText(http.StatusForbidden), strings.TrimSpace(rec.Body.String()))

	// Admins pass every gate, granted or not.
	require.Equal(t, http.StatusOK, serve(testActor{id: stranger, flagged: true}).Code)
}

func TestRequireAllGate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	userID, view, edit, _ := seedCatalog(t, store)
	require.NoError(t, store.AssignPermissionToUser(ctx, userID, view.ID))

	mw := Middleware{Resolver: NewResolver(store, NewCache(nil, 0), nil, nil)}
	gate := mw.RequireAll("leitos.view", "leitos.edit")(okHandler())

	serve := func(p Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, req)
		return rec
	}

	// Holding one of two is not enough.
	require.Equal(t, http.StatusForbidden, serve(testActor{id: userID}).Code)

	require.NoError(t, store.AssignPermissionToUser(ctx, userID, edit.ID))
	require.Equal(t, http.StatusOK, serve(testActor{id: userID}).Code)
}

func TestGateWithoutPrincipal(t *testing.T) {
	store := newMemoryStore()
	mw := Middleware{Resolver: NewResolver(store, NewCache(nil, 0), nil, nil)}
	gate := mw.RequireAny("leitos.view")(okHandler())

	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

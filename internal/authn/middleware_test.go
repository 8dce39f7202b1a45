package authn

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-iam/atlas-iam/internal/authz"
)

type stubRoleSource struct {
	roles map[int64][]authz.Role
}

func (s *stubRoleSource) RolesForUser(_ context.Context, userID int64) ([]authz.Role, error) {
	return s.roles[userID], nil
}

func (s *stubRoleSource) GuestRole(_ context.Context, _ string) (authz.Role, error) {
	return authz.Role{}, authz.ErrNoRole
}

func newTestMiddleware(t *testing.T) (Middleware, *TokenStore) {
	t.Helper()
	store, _ := newTestStore(t, time.Hour)
	source := &stubRoleSource{roles: map[int64][]authz.Role{
		7: {{Name: "editor", Guard: "api"}},
	}}
	resolver := authz.NewResolver(source, "api", slog.Default())
	return Middleware{Tokens: store, Resolver: resolver, Logger: slog.Default()}, store
}

func principalCapture(captured *authz.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured, _ = authz.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareWithoutTokenResolvesGuest(t *testing.T) {
	mw, _ := newTestMiddleware(t)

	var p authz.Principal
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	mw.ResolvePrincipal(principalCapture(&p)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, authz.GuestID, p.ID)
	assert.Empty(t, p.Roles)
}

func TestMiddlewareWithUnknownTokenResolvesGuest(t *testing.T) {
	mw, _ := newTestMiddleware(t)

	var p authz.Principal
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	mw.ResolvePrincipal(principalCapture(&p)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, authz.GuestID, p.ID)
}

func TestMiddlewareWithValidTokenResolvesUser(t *testing.T) {
	mw, store := newTestMiddleware(t)

	token, _, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	var p authz.Principal
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	mw.ResolvePrincipal(principalCapture(&p)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), p.ID)
	require.Len(t, p.Roles, 1)
	assert.Equal(t, "editor", p.Roles[0].Name)
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", ""},
		{"wrong scheme", "Basic abc", ""},
		{"bare token", "abc", ""},
		{"bearer", "Bearer abc", "abc"},
		{"case insensitive scheme", "bearer abc", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, bearerToken(req))
		})
	}
}

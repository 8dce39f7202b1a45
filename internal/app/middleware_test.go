package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-iam/atlas-iam/internal/authn"
	"github.com/atlas-iam/atlas-iam/internal/authz"
	_ "github.com/atlas-iam/atlas-iam/internal/testing/guard"
)

type emptyRoleSource struct{}

func (emptyRoleSource) RolesForUser(context.Context, int64) ([]authz.Role, error) {
	return nil, nil
}

func (emptyRoleSource) GuestRole(context.Context, string) (authz.Role, error) {
	return authz.Role{}, authz.ErrNoRole
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mw := authn.Middleware{
		Tokens:   authn.NewTokenStore(client, "", time.Hour),
		Resolver: authz.NewResolver(emptyRoleSource{}, "api", slog.Default()),
		Logger:   slog.Default(),
	}

	r := chi.NewRouter()
	for _, stack := range MiddlewareStack(MiddlewareConfig{Logger: slog.Default(), Authn: mw}) {
		r.Use(stack)
	}
	return r
}

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestMiddlewareStackSetsSecurityHeadersAndResolvesGuest(t *testing.T) {
	router := newTestRouter(t)
	router.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
		p, ok := authz.PrincipalFromContext(req.Context())
		require.True(t, ok)
		assert.Equal(t, authz.GuestID, p.ID)
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMiddlewareStackRateLimitsByIP(t *testing.T) {
	router := newTestRouter(t)
	router.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var last int
	for i := 0; i < 61; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestMiddlewareStackRecoversFromPanic(t *testing.T) {
	router := newTestRouter(t)
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package authn

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// Middleware resolves a principal for every request and stores it in the
// request context. Requests without a valid bearer token proceed as the
// synthetic guest principal; downstream gates decide what guests may do.
type Middleware struct {
	Tokens   *TokenStore
	Resolver *authz.Resolver
	Logger   *slog.Logger
}

// ResolvePrincipal is the middleware entry point.
func (m Middleware) ResolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := bearerToken(r)
		if token == "" {
			ctx = authz.ContextWithPrincipal(ctx, m.Resolver.Guest(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		userID, err := m.Tokens.Lookup(ctx, token)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				// Expired or revoked token: continue as guest.
				ctx = authz.ContextWithPrincipal(ctx, m.Resolver.Guest(ctx))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			m.Logger.Error("token lookup failed", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		principal, err := m.Resolver.Authenticated(ctx, userID)
		if err != nil {
			m.Logger.Error("principal resolution failed", slog.Int64("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		ctx = authz.ContextWithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

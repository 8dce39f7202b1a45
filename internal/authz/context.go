package authz

import "context"

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context. The authn
// middleware calls this once per request; everything downstream receives
// the principal as an explicit parameter.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal stored by the middleware.
// The boolean is false when no resolution has happened.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

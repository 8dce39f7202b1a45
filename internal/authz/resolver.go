package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RoleSource supplies role data for principal resolution.
type RoleSource interface {
	// RolesForUser returns the roles assigned to a user, with permissions.
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	// GuestRole returns the role flagged as guest for the guard, or
	// ErrNoRole when none is configured.
	GuestRole(ctx context.Context, guard string) (Role, error)
}

// ErrNoRole is returned by a RoleSource when no role matches the query.
var ErrNoRole = errors.New("authz: no such role")

// Resolver produces a Principal for every authorization request: the
// authenticated user with its roles, or a synthetic guest principal
// carrying the guard's configured guest role.
type Resolver struct {
	roles  RoleSource
	guard  string
	logger *slog.Logger
}

// NewResolver constructs a Resolver bound to one guard.
func NewResolver(roles RoleSource, guard string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{roles: roles, guard: guard, logger: logger}
}

// Authenticated resolves the principal for a known user id, loading its
// role set from the role source.
func (r *Resolver) Authenticated(ctx context.Context, userID int64) (Principal, error) {
	roles, err := r.roles.RolesForUser(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("authz: resolve roles for user %d: %w", userID, err)
	}
	return Principal{ID: userID, Roles: roles}, nil
}

// Guest builds the synthetic guest principal. A missing guest role leaves
// the role set empty; role-source failures degrade the same way so an
// unauthenticated request is never failed by principal resolution.
func (r *Resolver) Guest(ctx context.Context) Principal {
	role, err := r.roles.GuestRole(ctx, r.guard)
	if err != nil {
		if !errors.Is(err, ErrNoRole) {
			r.logger.Warn("guest role lookup failed", slog.String("guard", r.guard), slog.Any("error", err))
		}
		return Principal{ID: GuestID}
	}
	return Principal{ID: GuestID, Roles: []Role{role}}
}

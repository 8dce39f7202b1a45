package authz

import (
	"context"

	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// Ability names evaluated by the gate. Rules for these are registered at
// wiring time; the gate denies anything without a rule.
const (
	AbilityViewAnyUsers   = "users.viewAny"
	AbilityViewUser       = "users.view"
	AbilityCreateUser     = "users.create"
	AbilityUpdateUser     = "users.update"
	AbilityViewAnyRoles   = "roles.viewAny"
	AbilityViewAnyPerms   = "permissions.viewAny"
	AbilityAssignRole     = "assignRole"
	AbilityUpdateVerified = "updateEmailVerifiedAt"
	AbilityViewRoles      = "viewRoles"
	AbilityViewPerms      = "viewPermissions"
)

// UserRelations maps loadable relations of the user entity to the ability
// required to load each of them.
func UserRelations() RelationMap {
	return RelationMap{
		"roles":       AbilityViewRoles,
		"permissions": AbilityViewPerms,
	}
}

// RequirePermission builds a rule satisfied when the principal's effective
// permission set contains the named permission.
func RequirePermission(name string) Rule {
	return func(_ context.Context, p Principal, _ []any) bool {
		return p.HasPermission(name)
	}
}

// SelfScoped wraps a rule so it additionally requires the first argument to
// be the acting principal itself.
func SelfScoped(rule Rule) Rule {
	return func(ctx context.Context, p Principal, args []any) bool {
		if len(args) == 0 {
			return false
		}
		target, ok := args[0].(Principal)
		if !ok || target.ID != p.ID {
			return false
		}
		return rule(ctx, p, args)
	}
}

// RegisterDefaultRules installs the ability rules for the core platform.
// Every ability resolves against the principal's permissions; the
// email-verification override is additionally self-scoped.
func RegisterDefaultRules(g *Gate) {
	g.Register(AbilityViewAnyUsers, RequirePermission(shared.PermUsersView))
	g.Register(AbilityViewUser, RequirePermission(shared.PermUsersView))
	g.Register(AbilityCreateUser, RequirePermission(shared.PermUsersEdit))
	g.Register(AbilityUpdateUser, RequirePermission(shared.PermUsersEdit))
	g.Register(AbilityViewAnyRoles, RequirePermission(shared.PermRolesView))
	g.Register(AbilityViewAnyPerms, RequirePermission(shared.PermPermissionsView))
	g.Register(AbilityAssignRole, RequirePermission(shared.PermUsersAssignRoles))
	g.Register(AbilityUpdateVerified, SelfScoped(RequirePermission(shared.PermUsersVerifyEmail)))
	g.Register(AbilityViewRoles, RequirePermission(shared.PermRolesView))
	g.Register(AbilityViewPerms, RequirePermission(shared.PermPermissionsView))
}

// Package authz implements the ability gate, principal resolution and
// relation access filtering used by every privileged operation.
package authz

import "errors"

// GuestID is the reserved identity for unauthenticated principals.
// A guest principal is never persisted; it lives for one request only.
const GuestID int64 = -1

// ErrDenied indicates the gate rejected an ability check.
var ErrDenied = errors.New("authz: denied")

// Role is the authorization-level view of a role: its name within a guard
// plus the permission names it grants.
type Role struct {
	ID          int64
	Name        string
	Guard       string
	Permissions []string
}

// Principal is the acting party for an authorization decision.
type Principal struct {
	ID    int64
	Roles []Role
}

// Guest reports whether the principal carries the reserved guest identity.
func (p Principal) Guest() bool {
	return p.ID == GuestID
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of the principal's roles grants the
// named permission. Effective permissions are the union over roles.
func (p Principal) HasPermission(name string) bool {
	for _, r := range p.Roles {
		for _, perm := range r.Permissions {
			if perm == name {
				return true
			}
		}
	}
	return false
}

// PermissionNames returns the deduplicated union of permissions over the
// principal's roles, in order of first appearance.
func (p Principal) PermissionNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, r := range p.Roles {
		for _, perm := range r.Permissions {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			names = append(names, perm)
		}
	}
	return names
}

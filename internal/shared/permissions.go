package shared

// Core platform permissions, grouped per guard.
const (
	PermUsersView        = "users.view"
	PermUsersEdit        = "users.edit"
	PermUsersAssignRoles = "users.assign-roles"
	PermUsersVerifyEmail = "users.verify-email"

	PermRolesView = "roles.view"

	PermPermissionsView = "permissions.view"
)

// CoreScopes lists all permissions owned by the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermUsersAssignRoles,
		PermUsersVerifyEmail,
		PermRolesView,
		PermPermissionsView,
	}
}

package users

import "time"

// RoleRef projects a role inside a user response.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserView is the response projection of a user.
type UserView struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	DisplayName     string     `json:"display_name"`
	Email           string     `json:"email"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	Roles           []RoleRef  `json:"roles"`
	Permissions     []string   `json:"permissions,omitempty"`
}

// NewUserView projects a user entity for responses.
func NewUserView(u User) UserView {
	refs := make([]RoleRef, len(u.Roles))
	for i, role := range u.Roles {
		refs[i] = RoleRef{ID: role.ID, Name: role.Name}
	}
	return UserView{
		ID:              u.ID,
		Status:          u.Status,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		DisplayName:     u.DisplayName,
		Email:           u.Email,
		EmailVerifiedAt: u.EmailVerifiedAt,
		Roles:           refs,
		Permissions:     u.Permissions,
	}
}

package users

import (
	"time"

	"github.com/atlas-iam/atlas-iam/internal/roles"
)

// User represents a managed user account. Roles is populated only when the
// relation has been loaded explicitly.
type User struct {
	ID              int64
	Status          string
	FirstName       string
	LastName        string
	DisplayName     string
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	Roles           []roles.Role
	RolesLoaded     bool
	Permissions     []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Account status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusBlocked  = "blocked"
)

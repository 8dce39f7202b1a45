package roles

import (
	"time"

	"github.com/atlas-iam/atlas-iam/internal/authz"
)

// Role represents a named permission grouping within a guard. At most one
// role per guard is flagged as default and at most one as guest.
type Role struct {
	ID          int64
	Name        string
	Guard       string
	Description string
	IsDefault   bool
	IsGuest     bool
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability within a guard.
type Permission struct {
	ID          int64
	Name        string
	Guard       string
	Description string
}

// Authz converts the role to its authorization-level view.
func (r Role) Authz() authz.Role {
	return authz.Role{
		ID:          r.ID,
		Name:        r.Name,
		Guard:       r.Guard,
		Permissions: r.Permissions,
	}
}

package roles

import (
	"context"
	"errors"

	"github.com/atlas-iam/atlas-iam/internal/authz"
	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// RepositoryPort defines data access methods for roles and permissions.
type RepositoryPort interface {
	ListRoles(ctx context.Context, guard string) ([]Role, error)
	FindByName(ctx context.Context, name, guard string) (Role, error)
	DefaultRole(ctx context.Context, guard string) (Role, error)
	GuestRole(ctx context.Context, guard string) (Role, error)
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	ListPermissions(ctx context.Context, guard string) ([]Permission, error)
}

// Service handles role business logic for one guard.
type Service struct {
	repo  RepositoryPort
	guard string
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, guard string) *Service {
	return &Service{repo: repo, guard: guard}
}

// Guard returns the guard this service is scoped to.
func (s *Service) Guard() string {
	return s.guard
}

// ListRoles returns all roles in the guard.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx, s.guard)
}

// FindByName looks up a role by name in the guard.
func (s *Service) FindByName(ctx context.Context, name string) (Role, error) {
	return s.repo.FindByName(ctx, name, s.guard)
}

// DefaultRole returns the guard's default role, or shared.ErrNotFound.
func (s *Service) DefaultRole(ctx context.Context) (Role, error) {
	return s.repo.DefaultRole(ctx, s.guard)
}

// ListPermissions returns all permissions in the guard.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, s.guard)
}

// AuthzSource adapts the repository to the authz.RoleSource interface used
// by principal resolution.
type AuthzSource struct {
	repo RepositoryPort
}

// NewAuthzSource constructs an AuthzSource.
func NewAuthzSource(repo RepositoryPort) *AuthzSource {
	return &AuthzSource{repo: repo}
}

// RolesForUser returns the authorization view of a user's roles.
func (s *AuthzSource) RolesForUser(ctx context.Context, userID int64) ([]authz.Role, error) {
	list, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	converted := make([]authz.Role, len(list))
	for i, role := range list {
		converted[i] = role.Authz()
	}
	return converted, nil
}

// GuestRole returns the guard's guest role in authorization view.
func (s *AuthzSource) GuestRole(ctx context.Context, guard string) (authz.Role, error) {
	role, err := s.repo.GuestRole(ctx, guard)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.Role{}, authz.ErrNoRole
		}
		return authz.Role{}, err
	}
	return role.Authz(), nil
}

var _ authz.RoleSource = (*AuthzSource)(nil)

package authn

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atlas-iam/atlas-iam/internal/shared"
	"github.com/atlas-iam/atlas-iam/internal/users"
)

// UserSource looks up accounts for credential checks.
type UserSource interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	users  UserSource
	tokens *TokenStore
}

// NewService constructs a new Service.
func NewService(users UserSource, tokens *TokenStore) *Service {
	return &Service{users: users, tokens: tokens}
}

// Authenticate validates email/password credentials. Every failure mode
// collapses into ErrInvalidCredentials so callers cannot distinguish an
// unknown address from a wrong password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if user.Status != users.StatusActive {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(ctx, user.ID)
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

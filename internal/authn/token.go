// Package authn authenticates API callers: email/password login issuing
// opaque bearer tokens held in Redis, and the middleware that resolves
// every request to a principal.
package authn

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-iam/atlas-iam/internal/shared"
)

// TokenStore keeps issued bearer tokens in Redis with a sliding TTL.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, prefix string, ttl time.Duration) *TokenStore {
	if prefix == "" {
		prefix = "atlas:token"
	}
	return &TokenStore{client: client, prefix: prefix, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token for the user and stores it with the configured TTL.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, time.Time, error) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(s.ttl)
	if err := s.client.Set(ctx, s.key(token), strconv.FormatInt(userID, 10), s.ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("authn: store token: %w", err)
	}
	return token, expiresAt, nil
}

// Lookup resolves a token to its user id, refreshing the TTL. Unknown or
// expired tokens return shared.ErrNotFound.
func (s *TokenStore) Lookup(ctx context.Context, token string) (int64, error) {
	raw, err := s.client.GetEx(ctx, s.key(token), s.ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, shared.ErrNotFound
		}
		return 0, fmt.Errorf("authn: lookup token: %w", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("authn: corrupt token entry: %w", err)
	}
	return userID, nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("authn: revoke token: %w", err)
	}
	return nil
}

func (s *TokenStore) key(token string) string {
	return s.prefix + ":" + token
}

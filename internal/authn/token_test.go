package authn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-iam/atlas-iam/internal/shared"
)

func newTestStore(t *testing.T, ttl time.Duration) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, "atlas:token", ttl), mr
}

func TestTokenIssueAndLookup(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	token, expiresAt, err := store.Issue(ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	userID, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenLookupUnknown(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, err := store.Lookup(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTokenExpires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.Issue(ctx, 42)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTokenLookupSlidesTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	token, _, err := store.Issue(ctx, 42)
	require.NoError(t, err)

	// Touch the token just before expiry; the refreshed TTL must carry it
	// past the original deadline.
	mr.FastForward(45 * time.Second)
	_, err = store.Lookup(ctx, token)
	require.NoError(t, err)

	mr.FastForward(45 * time.Second)
	userID, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenRevoke(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	token, _, err := store.Issue(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.NoError(t, store.Revoke(ctx, "already-gone"))
}

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func testSession(id string, now time.Time) domainauth.UserSession {
	return domainauth.UserSession{
		ID:                   id,
		UserID:               "user-123",
		Email:                "user@example.com",
		AccessToken:          "AT1",
		RefreshToken:         "RT1",
		TokenType:            "Bearer",
		AccessTokenExpiresAt: now.Add(time.Hour),
		IssuedAt:             now,
		LastAccessedAt:       now,
		SlidingDeadline:      now.Add(time.Hour),
		AbsoluteDeadline:     now.Add(8 * time.Hour),
	}
}

func TestSessionStore_SaveAndGet(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := testSession("sess-save-get", now)

	require.NoError(t, store.Save(ctx, session, 30*time.Minute))

	retrieved, err := store.Get(ctx, "sess-save-get")
	require.NoError(t, err)
	assert.Equal(t, session.ID, retrieved.ID)
	assert.Equal(t, session.UserID, retrieved.UserID)
	assert.Equal(t, session.AccessToken, retrieved.AccessToken)
	assert.Equal(t, session.RefreshToken, retrieved.RefreshToken)
	assert.WithinDuration(t, session.AbsoluteDeadline, retrieved.AbsoluteDeadline, time.Second)
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)

	_, err := store.Get(context.Background(), "non-existent")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSessionStore_Update_BumpsVersion(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	now := time.Now().UTC()
	session := testSession("sess-update", now)
	require.NoError(t, store.Save(ctx, session, 30*time.Minute))

	session.AccessToken = "AT2"
	require.NoError(t, store.Update(ctx, session))

	retrieved, err := store.Get(ctx, "sess-update")
	require.NoError(t, err)
	assert.Equal(t, "AT2", retrieved.AccessToken)
	assert.Equal(t, session.Version+1, retrieved.Version)
}

func TestSessionStore_Update_StaleVersionConflicts(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	now := time.Now().UTC()
	session := testSession("sess-cas", now)
	require.NoError(t, store.Save(ctx, session, 30*time.Minute))

	// Two readers take the same snapshot.
	first, err := store.Get(ctx, "sess-cas")
	require.NoError(t, err)
	second, err := store.Get(ctx, "sess-cas")
	require.NoError(t, err)

	// First writer wins.
	first.AccessToken = "AT-refresh"
	require.NoError(t, store.Update(ctx, first))

	// Second writer carries the stale version and must lose.
	second.LastAccessedAt = now.Add(time.Minute)
	err = store.Update(ctx, second)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// The winner's write survived.
	retrieved, err := store.Get(ctx, "sess-cas")
	require.NoError(t, err)
	assert.Equal(t, "AT-refresh", retrieved.AccessToken)
}

func TestSessionStore_Update_MissingSession(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)

	err := store.Update(context.Background(), testSession("never-saved", time.Now()))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSessionStore_Update_PreservesTTL(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("sess-keepttl", time.Now().UTC())
	require.NoError(t, store.Save(ctx, session, 10*time.Minute))

	require.NoError(t, store.Update(ctx, session))

	ttl, err := client.TTL(ctx, "session:sess-keepttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestSessionStore_Delete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("sess-delete", time.Now().UTC())
	require.NoError(t, store.Save(ctx, session, 30*time.Minute))

	require.NoError(t, store.Delete(ctx, "sess-delete"))

	_, err := store.Get(ctx, "sess-delete")
	assert.True(t, apperrors.IsNotFound(err))

	// Idempotent: deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "sess-delete"))
}

func TestSessionStore_ExpireIn(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("sess-expirein", time.Now().UTC())
	require.NoError(t, store.Save(ctx, session, 30*time.Minute))

	require.NoError(t, store.ExpireIn(ctx, "sess-expirein", 100*time.Millisecond))

	time.Sleep(200 * time.Millisecond)
	_, err := store.Get(ctx, "sess-expirein")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSessionStore_TTLEviction(t *testing.T) {
	client := setupTestRedis(t)
	store := NewSessionStore(client)
	ctx := context.Background()

	session := testSession("sess-ttl", time.Now().UTC())
	require.NoError(t, store.Save(ctx, session, 100*time.Millisecond))

	time.Sleep(200 * time.Millisecond)

	_, err := store.Get(ctx, "sess-ttl")
	assert.True(t, apperrors.IsNotFound(err))
}

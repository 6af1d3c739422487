package redis

import (
	"context"
	"testing"
	"time"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeStore_PutAndConsume(t *testing.T) {
	client := setupTestRedis(t)
	store := NewChallengeStore(client)
	ctx := context.Background()

	ch := domainauth.PkceChallenge{
		State:         "state-abc",
		CodeVerifier:  "verifier-123",
		CodeChallenge: "challenge-456",
		ReturnURL:     "/orders/42",
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, store.Put(ctx, ch, 10*time.Minute))

	consumed, err := store.Consume(ctx, "state-abc")
	require.NoError(t, err)
	assert.Equal(t, ch.CodeVerifier, consumed.CodeVerifier)
	assert.Equal(t, ch.CodeChallenge, consumed.CodeChallenge)
	assert.Equal(t, ch.ReturnURL, consumed.ReturnURL)
}

func TestChallengeStore_Consume_SingleUse(t *testing.T) {
	client := setupTestRedis(t)
	store := NewChallengeStore(client)
	ctx := context.Background()

	ch := domainauth.PkceChallenge{
		State:        "state-once",
		CodeVerifier: "verifier",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, ch, 10*time.Minute))

	_, err := store.Consume(ctx, "state-once")
	require.NoError(t, err)

	// Replay must fail: the first consume removed the record.
	_, err = store.Consume(ctx, "state-once")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestChallengeStore_Consume_Unknown(t *testing.T) {
	client := setupTestRedis(t)
	store := NewChallengeStore(client)

	_, err := store.Consume(context.Background(), "never-issued")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestChallengeStore_TTLExpiry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewChallengeStore(client)
	ctx := context.Background()

	ch := domainauth.PkceChallenge{
		State:        "state-ttl",
		CodeVerifier: "verifier",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, ch, 100*time.Millisecond))

	time.Sleep(200 * time.Millisecond)

	_, err := store.Consume(ctx, "state-ttl")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestChallengeStore_Put_Validation(t *testing.T) {
	client := setupTestRedis(t)
	store := NewChallengeStore(client)
	ctx := context.Background()

	err := store.Put(ctx, domainauth.PkceChallenge{}, 10*time.Minute)
	assert.True(t, apperrors.IsValidation(err))

	err = store.Put(ctx, domainauth.PkceChallenge{State: "s"}, 0)
	assert.True(t, apperrors.IsValidation(err))
}

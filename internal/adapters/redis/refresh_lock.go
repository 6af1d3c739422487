package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
)

// releaseScript deletes the lock only when still held by the releasing
// owner; an expired-and-reacquired lock must not be released by the old
// holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RefreshLock implements the per-session refresh mutex with SET NX + TTL.
// The TTL bounds how long a crashed holder can block other instances.
type RefreshLock struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.SessionLocker = (*RefreshLock)(nil)

// NewRefreshLock creates a new Redis-based refresh lock.
func NewRefreshLock(client redis.UniversalClient) *RefreshLock {
	return &RefreshLock{
		client: client,
		prefix: "refresh-lock:",
	}
}

// TryLock attempts to acquire the refresh lock for sessionID.
func (l *RefreshLock) TryLock(
	ctx context.Context,
	sessionID string,
	ttl time.Duration,
) (func(context.Context) error, bool, error) {
	if sessionID == "" {
		return nil, false, apperrors.Validation("session ID cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	key := l.prefix + sessionID
	owner := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil {
			return fmt.Errorf("release refresh lock: %w", err)
		}
		return nil
	}
	return unlock, true, nil
}

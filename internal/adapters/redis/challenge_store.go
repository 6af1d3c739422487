package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
)

// ChallengeStore is a Redis-based store for single-use PKCE challenges.
// Replay protection comes from GETDEL: the first consumer takes the record
// and every later consumer of the same state sees not-found.
type ChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.ChallengeStore = (*ChallengeStore)(nil)

// NewChallengeStore creates a new Redis-based PKCE challenge store.
func NewChallengeStore(client redis.UniversalClient) *ChallengeStore {
	return &ChallengeStore{
		client: client,
		prefix: "pkce:",
	}
}

// Put writes the challenge with the given TTL.
func (s *ChallengeStore) Put(ctx context.Context, ch domainauth.PkceChallenge, ttl time.Duration) error {
	if ch.State == "" {
		return apperrors.Validation("challenge state cannot be empty")
	}
	if ttl <= 0 {
		return apperrors.Validation("challenge TTL must be positive")
	}

	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	return s.client.Set(ctx, s.prefix+ch.State, data, ttl).Err()
}

// Consume atomically looks up and deletes the challenge for state.
func (s *ChallengeStore) Consume(ctx context.Context, state string) (domainauth.PkceChallenge, error) {
	if state == "" {
		return domainauth.PkceChallenge{}, apperrors.NotFound("pkce challenge not found")
	}

	data, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.PkceChallenge{}, apperrors.NotFound("pkce challenge not found")
		}
		return domainauth.PkceChallenge{}, fmt.Errorf("redis getdel: %w", err)
	}

	var ch domainauth.PkceChallenge
	if unmarshalErr := json.Unmarshal([]byte(data), &ch); unmarshalErr != nil {
		return domainauth.PkceChallenge{}, fmt.Errorf("unmarshal challenge: %w", unmarshalErr)
	}

	return ch, nil
}

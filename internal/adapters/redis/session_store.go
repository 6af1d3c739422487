package redis

// Package redis provides the Redis-backed session store, PKCE challenge
// store, and per-session refresh lock.

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

// SessionStore is a Redis-based session store. Records are JSON with a TTL;
// updates are compare-and-swap on the session Version so that concurrent
// touch and refresh writes from different service instances cannot clobber
// each other.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: "session:",
	}
}

// NewSessionStoreWithPrefix creates a Redis session store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: prefix,
	}
}

// Save writes a new session record with the given TTL.
func (s *SessionStore) Save(ctx context.Context, sess domainauth.UserSession, ttl time.Duration) error {
	if sess.ID == "" {
		return apperrors.Validation("session ID cannot be empty")
	}
	if ttl <= 0 {
		return apperrors.Validation("session TTL must be positive")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.client.Set(ctx, s.prefix+sess.ID, data, ttl).Err()
}

// Get fetches a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (domainauth.UserSession, error) {
	if id == "" {
		return domainauth.UserSession{}, apperrors.NotFound("session not found")
	}

	data, err := s.client.Get(ctx, s.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.UserSession{}, apperrors.NotFound("session not found")
		}
		return domainauth.UserSession{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.UserSession
	if unmarshalErr := json.Unmarshal([]byte(data), &sess); unmarshalErr != nil {
		return domainauth.UserSession{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	return sess, nil
}

// Update writes the session back, guarded by compare-and-swap on Version.
// The caller passes the session carrying the Version it read; on success the
// stored record carries Version+1. A write that lost the race returns a
// conflict error and the caller must re-read before deciding anything.
func (s *SessionStore) Update(ctx context.Context, sess domainauth.UserSession) error {
	if sess.ID == "" {
		return apperrors.Validation("session ID cannot be empty")
	}

	key := s.prefix + sess.ID
	expected := sess.Version
	sess.Version++

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		data, getErr := tx.Get(ctx, key).Result()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				return apperrors.NotFound("session not found")
			}
			return fmt.Errorf("redis get: %w", getErr)
		}

		var current domainauth.UserSession
		if unmarshalErr := json.Unmarshal([]byte(data), &current); unmarshalErr != nil {
			return fmt.Errorf("unmarshal session: %w", unmarshalErr)
		}
		if current.Version != expected {
			return apperrors.Conflict("session version changed")
		}

		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// KeepTTL preserves the record's eviction clock; updates never
			// extend the store-level lifetime.
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return pipeErr
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer modified the key between WATCH and EXEC.
		return apperrors.Conflict("session modified concurrently")
	}
	return err
}

// Delete removes the record outright. Deleting a missing id is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+id).Err()
}

// ExpireIn shortens the record's remaining TTL. A missing id is not an
// error; the record is already gone.
func (s *SessionStore) ExpireIn(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" {
		return nil
	}
	return s.client.Expire(ctx, s.prefix+id, ttl).Err()
}

// Health checks the health of the Redis connection.
func (s *SessionStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

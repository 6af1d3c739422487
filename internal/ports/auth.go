package ports

// Package ports defines interfaces (hexagonal ports) for the login flow and
// session lifecycle. Implementations live in internal/adapters; orchestration
// in internal/service.

import (
	"context"
	"time"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
)

// AuthCodeRequest carries the parameters for building an authorization URL.
type AuthCodeRequest struct {
	State         string
	CodeChallenge string
}

// TokenProvider performs the OIDC relying-party calls against the external
// identity provider: authorization URL construction and the two
// token-endpoint grants.
type TokenProvider interface {
	// AuthCodeURL builds the authorization URL carrying client_id,
	// redirect_uri, scope, response_type=code, the S256 code challenge,
	// and state.
	AuthCodeURL(req AuthCodeRequest) string

	// Exchange redeems the authorization code with the stored PKCE verifier
	// and returns the token set plus the verified identity claims.
	Exchange(ctx context.Context, code, codeVerifier string) (domainauth.TokenSet, domainauth.Identity, error)

	// Refresh performs the refresh-token grant. A rejected refresh token is
	// surfaced as an error and must not be retried.
	Refresh(ctx context.Context, refreshToken string) (domainauth.TokenSet, error)

	// EndSessionURL returns the provider-side logout URL, or empty when the
	// provider does not advertise one.
	EndSessionURL(postLogoutRedirect string) string
}

// ChallengeStore persists single-use PKCE challenges keyed by state.
type ChallengeStore interface {
	// Put writes the challenge with the given TTL. At most one live
	// challenge exists per state.
	Put(ctx context.Context, ch domainauth.PkceChallenge, ttl time.Duration) error

	// Consume atomically looks up and deletes the challenge for state.
	// Missing, expired, or already-consumed states return a not-found error;
	// a state can therefore succeed at most once.
	Consume(ctx context.Context, state string) (domainauth.PkceChallenge, error)
}

// SessionStore persists and retrieves user sessions. It exclusively owns the
// durable representation; callers re-read on every operation and never cache
// across requests.
type SessionStore interface {
	// Save writes a new session record with the given TTL.
	Save(ctx context.Context, sess domainauth.UserSession, ttl time.Duration) error

	// Get fetches a session by id. Returns a not-found error when absent.
	Get(ctx context.Context, id string) (domainauth.UserSession, error)

	// Update writes the session back using compare-and-swap on Version:
	// the write succeeds only when the stored version still matches the
	// version the caller read, and bumps it by one. A lost race returns a
	// conflict error.
	Update(ctx context.Context, sess domainauth.UserSession) error

	// Delete removes the record outright. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// ExpireIn shortens the record's remaining TTL, used to put a rotated
	// session on its grace-window clock.
	ExpireIn(ctx context.Context, id string, ttl time.Duration) error
}

// SessionLocker provides per-session mutual exclusion for token refresh.
// It is the only explicit lock in the subsystem; all other session writes
// are CAS-based.
type SessionLocker interface {
	// TryLock attempts to acquire the refresh lock for sessionID. When
	// acquired is true the caller must invoke unlock when done. When false
	// another request holds the lock and the caller should wait for the
	// winner's result instead of refreshing itself.
	TryLock(ctx context.Context, sessionID string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

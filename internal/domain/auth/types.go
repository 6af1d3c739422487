package auth

// Package auth contains domain-level types for the login flow and session
// lifecycle. It is pure and free of framework/adapter concerns.

import "time"

// TokenSet is the credential material returned by the IdP token endpoint
// for both the authorization-code and refresh-token grants.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Identity carries the claims extracted from a verified ID token.
// The authorization layer consumes these through UserClaimsContext and
// must not depend on any provider-specific claim shape.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Groups  []string
}

// PkceChallenge is the short-lived record written at login initiation and
// consumed exactly once at callback time. State is the lookup key.
type PkceChallenge struct {
	State         string    `json:"state"`
	CodeVerifier  string    `json:"code_verifier"`
	CodeChallenge string    `json:"code_challenge"`
	ReturnURL     string    `json:"return_url"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserSession is the server-side record we persist for an authenticated user.
// ID is an opaque session identifier.
//
// Version guards concurrent updates: every write through the store must carry
// the version it read, and the store rejects the write if the stored version
// has moved on. This keeps a refresh completed by one request from being
// clobbered by a touch from another request that read stale data.
type UserSession struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`

	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	TokenType            string    `json:"token_type"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`

	IssuedAt         time.Time `json:"issued_at"`
	LastAccessedAt   time.Time `json:"last_accessed_at"`
	SlidingDeadline  time.Time `json:"sliding_deadline"`
	AbsoluteDeadline time.Time `json:"absolute_deadline"`

	// SupersededBy points at the successor session after a rotation.
	// The tombstoned record keeps forwarding reads during the grace window.
	SupersededBy string `json:"superseded_by,omitempty"`

	Version int64 `json:"version"`
}

// AbsoluteExpired reports whether the hard ceiling has passed.
func (s UserSession) AbsoluteExpired(now time.Time) bool {
	return !now.Before(s.AbsoluteDeadline)
}

// SlidingExpired reports whether the inactivity deadline has passed.
func (s UserSession) SlidingExpired(now time.Time) bool {
	return !now.Before(s.SlidingDeadline)
}

// Valid reports whether the session is live: both deadlines must be in the
// future.
func (s UserSession) Valid(now time.Time) bool {
	return !s.AbsoluteExpired(now) && !s.SlidingExpired(now)
}

// NeedsRefresh reports whether the access token's remaining lifetime is at
// or under the refresh threshold.
func (s UserSession) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.AccessTokenExpiresAt.Sub(now) <= threshold
}

// Touch advances LastAccessedAt and recomputes the sliding deadline,
// clamped so it never exceeds the absolute deadline.
func (s *UserSession) Touch(now time.Time, window time.Duration) {
	s.LastAccessedAt = now
	deadline := now.Add(window)
	if deadline.After(s.AbsoluteDeadline) {
		deadline = s.AbsoluteDeadline
	}
	s.SlidingDeadline = deadline
}

// ApplyTokens replaces the token material after a successful refresh.
// Deadlines are deliberately untouched: the absolute ceiling never moves,
// and sliding advancement is a separate touch operation.
func (s *UserSession) ApplyTokens(ts TokenSet) {
	s.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		s.RefreshToken = ts.RefreshToken
	}
	if ts.TokenType != "" {
		s.TokenType = ts.TokenType
	}
	s.AccessTokenExpiresAt = ts.ExpiresAt
}

// Claims builds the value object consumed by the authorization layer.
func (s UserSession) Claims() UserClaimsContext {
	return UserClaimsContext{
		SessionID: s.ID,
		UserID:    s.UserID,
		Email:     s.Email,
		Name:      s.Name,
	}
}

// UserClaimsContext is the stable contract between the session manager and
// the policy/RBAC layer. Keep this shape backward compatible.
type UserClaimsContext struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

package service

// Package service orchestrates the login flow and session lifecycle by
// coordinating the token provider, the challenge store, and the session
// store. The manager is stateless: every operation re-reads the store, so
// any number of service instances can share one Redis.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
)

const (
	// refreshLockTTL bounds how long a crashed refresh holder can block
	// other instances.
	refreshLockTTL = 15 * time.Second

	// refreshWaitTimeout is how long a losing request waits for the lock
	// winner's refresh result before failing closed.
	refreshWaitTimeout = 5 * time.Second

	// refreshWaitInterval is the poll interval while waiting for the winner.
	refreshWaitInterval = 100 * time.Millisecond

	// maxForwardHops bounds SupersededBy chains during rotation forwarding.
	maxForwardHops = 3
)

// Config carries the session lifecycle tuning the manager needs.
type Config struct {
	SlidingWindow    time.Duration
	AbsoluteWindow   time.Duration
	PkceTTL          time.Duration
	RefreshThreshold time.Duration
	RotationGrace    time.Duration
}

// sanitize applies defaults for zero values so a partially filled Config in
// tests behaves sensibly.
func (c *Config) sanitize() {
	if c.SlidingWindow <= 0 {
		c.SlidingWindow = time.Hour
	}
	if c.AbsoluteWindow <= 0 {
		c.AbsoluteWindow = 8 * time.Hour
	}
	if c.PkceTTL <= 0 {
		c.PkceTTL = 10 * time.Minute
	}
	if c.RefreshThreshold < 0 {
		c.RefreshThreshold = 0
	}
	if c.RotationGrace <= 0 {
		c.RotationGrace = 10 * time.Second
	}
}

// Metrics receives lifecycle events for emission to a metrics sink.
type Metrics interface {
	LoginCompleted(result string)
	ValidationChecked(status string)
	TokenRefreshed(result string, elapsed time.Duration)
	SessionRotated()
}

type noopMetrics struct{}

func (noopMetrics) LoginCompleted(string)                {}
func (noopMetrics) ValidationChecked(string)             {}
func (noopMetrics) TokenRefreshed(string, time.Duration) {}
func (noopMetrics) SessionRotated()                      {}

// Options groups dependencies for SessionManager.
type Options struct {
	Provider   ports.TokenProvider
	Sessions   ports.SessionStore
	Challenges ports.ChallengeStore
	Locks      ports.SessionLocker
	Config     Config
	Logger     *slog.Logger
	Metrics    Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// SessionManager is the core state machine: creation, validation,
// sliding/absolute expiration, refresh-on-demand, rotation, and removal of
// sessions.
type SessionManager struct {
	provider   ports.TokenProvider
	sessions   ports.SessionStore
	challenges ports.ChallengeStore
	locks      ports.SessionLocker
	cfg        Config
	logger     *slog.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewSessionManager constructs a new SessionManager.
func NewSessionManager(opts Options) *SessionManager {
	cfg := opts.Config
	cfg.sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &SessionManager{
		provider:   opts.Provider,
		sessions:   opts.Sessions,
		challenges: opts.Challenges,
		locks:      opts.Locks,
		cfg:        cfg,
		logger:     logger.With("component", "session-manager"),
		metrics:    metrics,
		now:        now,
	}
}

// ValidationStatus tags the outcome of a validation call. Expected outcomes
// are values, not errors; errors are reserved for store/IdP faults.
type ValidationStatus string

const (
	// ValidationOK means the session is live and the access token usable.
	ValidationOK ValidationStatus = "ok"
	// ValidationNotFound means no record exists for the id.
	ValidationNotFound ValidationStatus = "not_found"
	// ValidationExpired means the sliding or absolute deadline passed.
	ValidationExpired ValidationStatus = "expired"
	// ValidationRefreshFailed means the IdP rejected the refresh token and
	// the session was invalidated.
	ValidationRefreshFailed ValidationStatus = "refresh_failed"
)

// ValidationResult is the tagged result of Validate.
type ValidationResult struct {
	Status      ValidationStatus
	Session     *domainauth.UserSession // set only when Status == ValidationOK
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the result carries a usable session.
func (r ValidationResult) Valid() bool { return r.Status == ValidationOK }

// Validate runs the full per-request check on a session id: forwarding,
// deadline checks, refresh-on-demand, and the sliding-window touch.
func (m *SessionManager) Validate(ctx context.Context, sessionID string) (ValidationResult, error) {
	res, err := m.validate(ctx, sessionID)
	if err == nil {
		m.metrics.ValidationChecked(string(res.Status))
	}
	return res, err
}

func (m *SessionManager) validate(ctx context.Context, sessionID string) (ValidationResult, error) {
	sess, found, err := m.getForwarded(ctx, sessionID)
	if err != nil {
		return ValidationResult{}, err
	}
	if !found {
		return ValidationResult{Status: ValidationNotFound}, nil
	}

	now := m.now()

	// The absolute ceiling is never extended, regardless of refresh.
	if sess.AbsoluteExpired(now) {
		if delErr := m.sessions.Delete(ctx, sess.ID); delErr != nil {
			m.logger.WarnContext(ctx, "delete absolutely expired session failed",
				"session_id", sess.ID, "error", delErr)
		}
		return ValidationResult{Status: ValidationExpired}, nil
	}

	// Inactivity timeout. The record is left for TTL eviction so operators
	// can still inspect it; the caller must re-authenticate either way.
	if sess.SlidingExpired(now) {
		return ValidationResult{Status: ValidationExpired}, nil
	}

	if sess.NeedsRefresh(now, m.cfg.RefreshThreshold) {
		refreshed, refreshErr := m.refreshWithLock(ctx, sess)
		if refreshErr != nil {
			if apperrors.IsRefreshFailed(refreshErr) {
				return ValidationResult{Status: ValidationRefreshFailed}, nil
			}
			return ValidationResult{}, refreshErr
		}
		sess = refreshed
	}

	sess = m.touch(ctx, sess)

	return ValidationResult{
		Status:      ValidationOK,
		Session:     &sess,
		AccessToken: sess.AccessToken,
		ExpiresAt:   sess.AccessTokenExpiresAt,
	}, nil
}

// IsValidSession reports whether the session validates, swallowing expected
// outcomes.
func (m *SessionManager) IsValidSession(ctx context.Context, sessionID string) bool {
	res, err := m.Validate(ctx, sessionID)
	if err != nil {
		m.logger.WarnContext(ctx, "session validation errored", "error", err)
		return false
	}
	return res.Valid()
}

// CreateSession persists a new session from an IdP token set and returns it.
func (m *SessionManager) CreateSession(
	ctx context.Context,
	tokens domainauth.TokenSet,
	identity domainauth.Identity,
) (domainauth.UserSession, error) {
	now := m.now()
	sess := domainauth.UserSession{
		ID:                   uuid.NewString(),
		UserID:               identity.Subject,
		Email:                identity.Email,
		Name:                 identity.Name,
		AccessToken:          tokens.AccessToken,
		RefreshToken:         tokens.RefreshToken,
		TokenType:            tokens.TokenType,
		AccessTokenExpiresAt: tokens.ExpiresAt,
		IssuedAt:             now,
		LastAccessedAt:       now,
		AbsoluteDeadline:     now.Add(m.cfg.AbsoluteWindow),
	}
	sess.Touch(now, m.cfg.SlidingWindow)

	// Store-level TTL outlives the absolute deadline by the grace window so
	// a tombstoned record can still forward reads.
	if err := m.sessions.Save(ctx, sess, m.cfg.AbsoluteWindow+m.cfg.RotationGrace); err != nil {
		return domainauth.UserSession{}, fmt.Errorf("save session: %w", err)
	}

	return sess, nil
}

// GetSession retrieves a session by id, following rotation forwarding.
// Expired records are returned as-is; callers that need liveness checks use
// Validate.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*domainauth.UserSession, error) {
	sess, found, err := m.getForwarded(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("session not found")
	}
	return &sess, nil
}

// UpdateSession writes the session back through the store's CAS guard.
func (m *SessionManager) UpdateSession(ctx context.Context, sess domainauth.UserSession) error {
	return m.sessions.Update(ctx, sess)
}

// UpdateLastAccessed advances the sliding window for a session id.
func (m *SessionManager) UpdateLastAccessed(ctx context.Context, sessionID string) error {
	sess, found, err := m.getForwarded(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NotFound("session not found")
	}
	m.touch(ctx, sess)
	return nil
}

// RemoveSession deletes the session outright, with no grace period.
// Removing a non-existent session is not an error.
func (m *SessionManager) RemoveSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RotateSessionID replaces the session id after a privilege-sensitive event.
// The old record becomes a tombstone forwarding reads to the successor for
// the grace window, so requests that read the old id from a cookie moments
// before rotation do not fail. Rotating an already-superseded id returns the
// existing successor.
func (m *SessionManager) RotateSessionID(ctx context.Context, oldSessionID string) (string, error) {
	old, err := m.sessions.Get(ctx, oldSessionID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Rotation raced a deletion; nothing to forward to.
			return "", apperrors.New(apperrors.ErrCodeRotationConflict, "session deleted during rotation")
		}
		return "", err
	}

	// Idempotent: a second rotation returns the existing successor.
	if old.SupersededBy != "" {
		return old.SupersededBy, nil
	}

	successor := old
	successor.ID = uuid.NewString()
	successor.SupersededBy = ""
	successor.Version = 0

	ttl := old.AbsoluteDeadline.Sub(m.now()) + m.cfg.RotationGrace
	if err := m.sessions.Save(ctx, successor, ttl); err != nil {
		return "", fmt.Errorf("save rotated session: %w", err)
	}

	old.SupersededBy = successor.ID
	if err := m.sessions.Update(ctx, old); err != nil {
		// Lost the marking race: discard our successor and defer to whoever won.
		if cleanupErr := m.sessions.Delete(ctx, successor.ID); cleanupErr != nil {
			m.logger.WarnContext(ctx, "cleanup of orphaned rotation successor failed",
				"session_id", successor.ID, "error", cleanupErr)
		}

		current, getErr := m.sessions.Get(ctx, oldSessionID)
		if getErr == nil && current.SupersededBy != "" {
			return current.SupersededBy, nil
		}
		return "", apperrors.Wrap(err, apperrors.ErrCodeRotationConflict, "concurrent rotation")
	}

	// Put the tombstone on the grace clock.
	if err := m.sessions.ExpireIn(ctx, old.ID, m.cfg.RotationGrace); err != nil {
		m.logger.WarnContext(ctx, "shorten rotated session TTL failed",
			"session_id", old.ID, "error", err)
	}

	m.metrics.SessionRotated()
	m.logger.InfoContext(ctx, "session rotated", "user_id", old.UserID)
	return successor.ID, nil
}

// getForwarded fetches a session, following SupersededBy tombstones left by
// rotation. The bool reports presence.
func (m *SessionManager) getForwarded(
	ctx context.Context,
	sessionID string,
) (domainauth.UserSession, bool, error) {
	id := sessionID
	for hop := 0; hop <= maxForwardHops; hop++ {
		sess, err := m.sessions.Get(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return domainauth.UserSession{}, false, nil
			}
			return domainauth.UserSession{}, false, err
		}
		if sess.SupersededBy == "" {
			return sess, true, nil
		}
		id = sess.SupersededBy
	}
	return domainauth.UserSession{}, false,
		apperrors.New(apperrors.ErrCodeRotationConflict, "rotation forwarding chain too long")
}

// touch advances the sliding window through the CAS guard. A lost touch race
// is benign: somebody else moved the session forward, so re-read and carry
// on with their state.
func (m *SessionManager) touch(ctx context.Context, sess domainauth.UserSession) domainauth.UserSession {
	updated := sess
	updated.Touch(m.now(), m.cfg.SlidingWindow)

	err := m.sessions.Update(ctx, updated)
	if err == nil {
		updated.Version++
		return updated
	}

	if apperrors.IsConflict(err) {
		if current, getErr := m.sessions.Get(ctx, sess.ID); getErr == nil {
			return current
		}
		return sess
	}

	m.logger.WarnContext(ctx, "touch session failed", "session_id", sess.ID, "error", err)
	return sess
}

// refreshWithLock performs the refresh-token grant with at-most-one
// concurrent refresh per session. The lock loser waits briefly for the
// winner's result rather than firing a second refresh call: most IdPs
// invalidate a refresh token on first use, so a duplicate grant would kill
// the session.
func (m *SessionManager) refreshWithLock(
	ctx context.Context,
	sess domainauth.UserSession,
) (domainauth.UserSession, error) {
	unlock, acquired, err := m.locks.TryLock(ctx, sess.ID, refreshLockTTL)
	if err != nil {
		return domainauth.UserSession{}, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !acquired {
		return m.awaitRefresh(ctx, sess)
	}
	defer func() {
		if unlockErr := unlock(ctx); unlockErr != nil {
			m.logger.WarnContext(ctx, "release refresh lock failed",
				"session_id", sess.ID, "error", unlockErr)
		}
	}()

	// Re-read under the lock: a previous holder may have refreshed already.
	current, err := m.sessions.Get(ctx, sess.ID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.UserSession{}, apperrors.New(apperrors.ErrCodeRefreshFailed, "session invalidated")
		}
		return domainauth.UserSession{}, err
	}
	if !current.NeedsRefresh(m.now(), m.cfg.RefreshThreshold) {
		return current, nil
	}

	started := time.Now()
	tokens, err := m.provider.Refresh(ctx, current.RefreshToken)
	if err != nil {
		m.metrics.TokenRefreshed(refreshResult(err), time.Since(started))
		// Fail closed: a rejected refresh token is never retried (it would
		// not succeed, and silent retries could mask token theft). The
		// session is invalidated and the user must log in again.
		if apperrors.IsRefreshFailed(err) {
			if delErr := m.sessions.Delete(ctx, current.ID); delErr != nil {
				m.logger.WarnContext(ctx, "invalidate session after refresh rejection failed",
					"session_id", current.ID, "error", delErr)
			}
			m.logger.WarnContext(ctx, "refresh token rejected, session invalidated",
				"session_id", current.ID, "user_id", current.UserID)
			return domainauth.UserSession{}, err
		}
		return domainauth.UserSession{}, fmt.Errorf("refresh token grant: %w", err)
	}
	m.metrics.TokenRefreshed("success", time.Since(started))

	current.ApplyTokens(tokens)
	if err := m.sessions.Update(ctx, current); err != nil {
		if apperrors.IsConflict(err) {
			// A concurrent touch slipped in between our read and write.
			// Re-read and reapply so the new tokens always win.
			reread, getErr := m.sessions.Get(ctx, current.ID)
			if getErr != nil {
				return domainauth.UserSession{}, getErr
			}
			reread.ApplyTokens(tokens)
			if retryErr := m.sessions.Update(ctx, reread); retryErr != nil {
				return domainauth.UserSession{}, fmt.Errorf("store refreshed tokens: %w", retryErr)
			}
			reread.Version++
			return reread, nil
		}
		return domainauth.UserSession{}, fmt.Errorf("store refreshed tokens: %w", err)
	}
	current.Version++

	m.logger.InfoContext(ctx, "access token refreshed", "session_id", current.ID)
	return current, nil
}

func refreshResult(err error) string {
	if apperrors.IsRefreshFailed(err) {
		return "rejected"
	}
	return "error"
}

// awaitRefresh polls for the lock winner's result. It returns the session
// once its token no longer needs refreshing, and fails closed when the
// winner invalidated the session or the wait times out.
func (m *SessionManager) awaitRefresh(
	ctx context.Context,
	sess domainauth.UserSession,
) (domainauth.UserSession, error) {
	// The deadline runs on the wall clock: it bounds a real wait for the
	// lock winner's network call. The lifecycle checks inside the loop still
	// use the injectable m.now.
	deadline := time.Now().Add(refreshWaitTimeout)
	ticker := time.NewTicker(refreshWaitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domainauth.UserSession{}, ctx.Err()
		case <-ticker.C:
		}

		current, err := m.sessions.Get(ctx, sess.ID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return domainauth.UserSession{}, apperrors.New(apperrors.ErrCodeRefreshFailed, "session invalidated during refresh")
			}
			return domainauth.UserSession{}, err
		}
		if !current.NeedsRefresh(m.now(), m.cfg.RefreshThreshold) {
			return current, nil
		}

		if time.Now().After(deadline) {
			return domainauth.UserSession{}, apperrors.New(apperrors.ErrCodeRefreshFailed, "timed out waiting for concurrent refresh")
		}
	}
}

package auth

// Package auth contains hand-written in-memory test doubles for the auth
// ports. They carry the same semantics as the Redis adapters (CAS versioning,
// TTL eviction, single-use consumption) so service tests exercise the real
// state machine without infrastructure.

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.TokenProvider  = (*MockTokenProvider)(nil)
	_ ports.SessionStore   = (*MemorySessionStore)(nil)
	_ ports.ChallengeStore = (*MemoryChallengeStore)(nil)
	_ ports.SessionLocker  = (*MemoryLocker)(nil)
)

// MockTokenProvider simulates the IdP with overridable behavior and call
// counters. The zero value serves deterministic defaults.
type MockTokenProvider struct {
	AuthCodeURLFunc   func(req ports.AuthCodeRequest) string
	ExchangeFunc      func(ctx context.Context, code, verifier string) (domainauth.TokenSet, domainauth.Identity, error)
	RefreshFunc       func(ctx context.Context, refreshToken string) (domainauth.TokenSet, error)
	EndSessionURLFunc func(postLogoutRedirect string) string

	ExchangeCalls atomic.Int64
	RefreshCalls  atomic.Int64
}

// NewMockTokenProvider creates a provider double with default behavior.
func NewMockTokenProvider() *MockTokenProvider {
	return &MockTokenProvider{}
}

func (p *MockTokenProvider) AuthCodeURL(req ports.AuthCodeRequest) string {
	if p.AuthCodeURLFunc != nil {
		return p.AuthCodeURLFunc(req)
	}
	return "https://mock-idp/authorize?state=" + req.State + "&code_challenge=" + req.CodeChallenge
}

func (p *MockTokenProvider) Exchange(ctx context.Context, code, verifier string) (domainauth.TokenSet, domainauth.Identity, error) {
	p.ExchangeCalls.Add(1)
	if p.ExchangeFunc != nil {
		return p.ExchangeFunc(ctx, code, verifier)
	}
	tokens := domainauth.TokenSet{
		AccessToken:  "AT-" + code,
		RefreshToken: "RT-" + code,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	identity := domainauth.Identity{
		Subject: "mock-user-1",
		Email:   "mock.user@example.com",
		Name:    "Mock User",
	}
	return tokens, identity, nil
}

func (p *MockTokenProvider) Refresh(ctx context.Context, refreshToken string) (domainauth.TokenSet, error) {
	p.RefreshCalls.Add(1)
	if p.RefreshFunc != nil {
		return p.RefreshFunc(ctx, refreshToken)
	}
	return domainauth.TokenSet{
		AccessToken:  "AT-refreshed",
		RefreshToken: "RT-refreshed",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (p *MockTokenProvider) EndSessionURL(postLogoutRedirect string) string {
	if p.EndSessionURLFunc != nil {
		return p.EndSessionURLFunc(postLogoutRedirect)
	}
	if postLogoutRedirect == "" {
		return "https://mock-idp/logout"
	}
	return "https://mock-idp/logout?post_logout_redirect_uri=" + postLogoutRedirect
}

type sessionRecord struct {
	sess      domainauth.UserSession
	expiresAt time.Time
}

// MemorySessionStore is a map-backed SessionStore with the same CAS and TTL
// semantics as the Redis adapter.
type MemorySessionStore struct {
	mu      sync.Mutex
	records map[string]sessionRecord

	// Now overrides the TTL clock, for tests.
	Now func() time.Time
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{records: make(map[string]sessionRecord)}
}

func (s *MemorySessionStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemorySessionStore) Save(_ context.Context, sess domainauth.UserSession, ttl time.Duration) error {
	if sess.ID == "" {
		return apperrors.Validation("session ID cannot be empty")
	}
	if ttl <= 0 {
		return apperrors.Validation("ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sess.ID] = sessionRecord{sess: sess, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (domainauth.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || !s.now().Before(rec.expiresAt) {
		delete(s.records, id)
		return domainauth.UserSession{}, apperrors.NotFound("session not found")
	}
	return rec.sess, nil
}

func (s *MemorySessionStore) Update(_ context.Context, sess domainauth.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sess.ID]
	if !ok || !s.now().Before(rec.expiresAt) {
		delete(s.records, sess.ID)
		return apperrors.NotFound("session not found")
	}
	if rec.sess.Version != sess.Version {
		return apperrors.Conflict("session version mismatch")
	}
	sess.Version++
	rec.sess = sess
	s.records[sess.ID] = rec
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemorySessionStore) ExpireIn(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	rec.expiresAt = s.now().Add(ttl)
	s.records[id] = rec
	return nil
}

// Len reports the number of live records, for test assertions.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if s.now().Before(rec.expiresAt) {
			n++
		}
	}
	return n
}

type challengeRecord struct {
	ch        domainauth.PkceChallenge
	expiresAt time.Time
}

// MemoryChallengeStore is a map-backed single-use ChallengeStore.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]challengeRecord

	Now func() time.Time
}

// NewMemoryChallengeStore creates an empty in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{records: make(map[string]challengeRecord)}
}

func (s *MemoryChallengeStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryChallengeStore) Put(_ context.Context, ch domainauth.PkceChallenge, ttl time.Duration) error {
	if ch.State == "" {
		return apperrors.Validation("state cannot be empty")
	}
	if ttl <= 0 {
		return apperrors.Validation("ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[ch.State] = challengeRecord{ch: ch, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, state string) (domainauth.PkceChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[state]
	delete(s.records, state)
	if !ok || !s.now().Before(rec.expiresAt) {
		return domainauth.PkceChallenge{}, apperrors.NotFound("challenge not found")
	}
	return rec.ch, nil
}

// MemoryLocker is a map-backed SessionLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]struct{}
	Locks atomic.Int64
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, sessionID string, _ time.Duration) (func(context.Context) error, bool, error) {
	if sessionID == "" {
		return nil, false, apperrors.Validation("session ID cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sessionID]; ok {
		return nil, false, nil
	}
	l.held[sessionID] = struct{}{}
	l.Locks.Add(1)
	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, sessionID)
		return nil
	}
	return unlock, true, nil
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
)

// LoginStart is what BeginLogin hands back to the HTTP layer.
type LoginStart struct {
	AuthURL string
	State   string
}

// CallbackInput carries the query parameters the IdP sends to the redirect URI.
type CallbackInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// LoginResult is the outcome of a successful callback exchange.
type LoginResult struct {
	SessionID   string
	RedirectURI string
	Session     domainauth.UserSession
}

// BeginLogin generates the PKCE verifier and state, stores the challenge,
// and returns the IdP authorization URL to redirect the browser to.
func (m *SessionManager) BeginLogin(ctx context.Context, returnURL string) (LoginStart, error) {
	state, err := generateState()
	if err != nil {
		return LoginStart{}, fmt.Errorf("generate state: %w", err)
	}

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	ch := domainauth.PkceChallenge{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: challenge,
		ReturnURL:     returnURL,
		CreatedAt:     m.now(),
	}
	if err := m.challenges.Put(ctx, ch, m.cfg.PkceTTL); err != nil {
		return LoginStart{}, fmt.Errorf("store pkce challenge: %w", err)
	}

	authURL := m.provider.AuthCodeURL(ports.AuthCodeRequest{
		State:         state,
		CodeChallenge: challenge,
	})

	m.logger.DebugContext(ctx, "login started", "state", state)
	return LoginStart{AuthURL: authURL, State: state}, nil
}

// CompleteLogin handles the IdP redirect: it verifies and consumes the state,
// exchanges the code with the stored verifier, and creates the session.
func (m *SessionManager) CompleteLogin(ctx context.Context, in CallbackInput) (LoginResult, error) {
	// The IdP reports user denial and its own failures through the error
	// parameter instead of a code.
	if in.Error != "" {
		msg := in.Error
		if in.ErrorDescription != "" {
			msg = fmt.Sprintf("%s: %s", in.Error, in.ErrorDescription)
		}
		m.metrics.LoginCompleted("denied")
		return LoginResult{}, apperrors.New(apperrors.ErrCodeAuthorizationDenied, msg)
	}
	if in.Code == "" {
		return LoginResult{}, apperrors.New(apperrors.ErrCodeAuthorizationDenied, "missing authorization code")
	}
	if in.State == "" {
		return LoginResult{}, apperrors.New(apperrors.ErrCodeInvalidState, "missing state parameter")
	}

	// Consume is destructive, so a replayed or forged state always misses.
	ch, err := m.challenges.Consume(ctx, in.State)
	if err != nil {
		if apperrors.IsNotFound(err) {
			m.metrics.LoginCompleted("invalid_state")
			return LoginResult{}, apperrors.New(apperrors.ErrCodeInvalidState, "unknown or already used state")
		}
		return LoginResult{}, fmt.Errorf("consume pkce challenge: %w", err)
	}

	tokens, identity, err := m.provider.Exchange(ctx, in.Code, ch.CodeVerifier)
	if err != nil {
		m.metrics.LoginCompleted("exchange_failed")
		return LoginResult{}, err
	}

	sess, err := m.CreateSession(ctx, tokens, identity)
	if err != nil {
		return LoginResult{}, err
	}

	redirect := ch.ReturnURL
	if redirect == "" {
		redirect = "/"
	}

	m.metrics.LoginCompleted("success")
	m.logger.InfoContext(ctx, "login completed", "user_id", sess.UserID, "session_id", sess.ID)
	return LoginResult{SessionID: sess.ID, RedirectURI: redirect, Session: sess}, nil
}

// Logout removes the session. Logging out an unknown or already removed
// session succeeds.
func (m *SessionManager) Logout(ctx context.Context, sessionID string) error {
	if err := m.RemoveSession(ctx, sessionID); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "logout", "session_id", sessionID)
	return nil
}

// LogoutURL builds the IdP end-session URL for RP-initiated logout.
func (m *SessionManager) LogoutURL(postLogoutRedirect string) string {
	return m.provider.EndSessionURL(postLogoutRedirect)
}

// generateState returns a URL-safe random state value.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

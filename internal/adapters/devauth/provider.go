package devauth

// Package devauth provides a config-driven TokenProvider for local
// development. It short-circuits the IdP round-trip by pointing the
// authorization URL straight back at our own callback, and mints opaque
// local tokens instead of talking to a token endpoint.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	"github.com/scalehouse/auth-service/internal/ports"
)

// Config controls the dev auth provider behavior.
type Config struct {
	UserID        string
	Email         string
	Name          string
	TokenLifetime time.Duration // default 1h when zero
}

// Provider implements ports.TokenProvider for local development. Exchange
// and Refresh never fail; the session lifecycle above them behaves exactly
// as it would against a real IdP.
type Provider struct {
	identity      domainauth.Identity
	tokenLifetime time.Duration
}

var _ ports.TokenProvider = (*Provider)(nil)

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	lifetime := cfg.TokenLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	name := cfg.Name
	if name == "" {
		name = cfg.UserID
	}
	return &Provider{
		identity: domainauth.Identity{
			Subject: cfg.UserID,
			Email:   cfg.Email,
			Name:    name,
		},
		tokenLifetime: lifetime,
	}, nil
}

// AuthCodeURL points the browser straight back at our callback with a local
// code, keeping the standard handler flow intact.
func (p *Provider) AuthCodeURL(req ports.AuthCodeRequest) string {
	q := url.Values{}
	q.Set("code", "dev")
	q.Set("state", req.State)
	return "/auth/callback?" + q.Encode()
}

// Exchange ignores the code and verifier and returns the configured identity
// with freshly minted local tokens.
func (p *Provider) Exchange(_ context.Context, _, _ string) (domainauth.TokenSet, domainauth.Identity, error) {
	tokens, err := p.mintTokens()
	if err != nil {
		return domainauth.TokenSet{}, domainauth.Identity{}, err
	}
	return tokens, p.identity, nil
}

// Refresh mints a new token set; dev tokens never get rejected.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (domainauth.TokenSet, error) {
	if refreshToken == "" {
		return domainauth.TokenSet{}, errors.New("dev auth: refresh token is required")
	}
	return p.mintTokens()
}

// EndSessionURL returns empty: there is no IdP session to end.
func (p *Provider) EndSessionURL(string) string { return "" }

func (p *Provider) mintTokens() (domainauth.TokenSet, error) {
	access, err := randomString(24)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := randomString(24)
	if err != nil {
		return domainauth.TokenSet{}, fmt.Errorf("mint refresh token: %w", err)
	}
	return domainauth.TokenSet{
		AccessToken:  "dev-at-" + access,
		RefreshToken: "dev-rt-" + refresh,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(p.tokenLifetime),
	}, nil
}

func randomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

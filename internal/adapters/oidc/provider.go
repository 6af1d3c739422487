package oidc

// Package oidc implements the TokenProvider port against an external OIDC
// identity provider using endpoint discovery.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/ports"
	"golang.org/x/oauth2"
)

// Provider implements ports.TokenProvider using OIDC discovery, the
// authorization-code grant with PKCE, and the refresh-token grant.
type Provider struct {
	config        *oauth2.Config
	endSessionURL string
	httpClient    *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

var _ ports.TokenProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	Authority    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string

	// EndSessionURL overrides the discovered end_session_endpoint when set.
	EndSessionURL string

	HTTPClient *http.Client // Optional, defaults to a 30s-timeout client
}

// discoveryClaims carries the extra discovery-document fields go-oidc does
// not surface directly.
type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewProvider creates a new OIDC provider. Discovery is performed once at
// construction time.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Authority == "" {
		return nil, errors.New("authority is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect URI is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{httpClient: httpClient}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(cfg.Authority, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	p.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       strings.Fields(cfg.Scopes),
		Endpoint:     op.Endpoint(),
	}

	p.endSessionURL = cfg.EndSessionURL
	if p.endSessionURL == "" {
		var dc discoveryClaims
		if claimsErr := op.Claims(&dc); claimsErr == nil {
			p.endSessionURL = dc.EndSessionEndpoint
		}
	}

	return p, nil
}

// AuthCodeURL builds the authorization URL for the code flow with the S256
// PKCE challenge.
func (p *Provider) AuthCodeURL(req ports.AuthCodeRequest) string {
	return p.config.AuthCodeURL(req.State,
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems the authorization code with the PKCE verifier and
// extracts the identity from the verified ID token.
func (p *Provider) Exchange(
	ctx context.Context,
	code, codeVerifier string,
) (domainauth.TokenSet, domainauth.Identity, error) {
	if code == "" {
		return domainauth.TokenSet{}, domainauth.Identity{}, apperrors.Validation("authorization code is required")
	}
	if codeVerifier == "" {
		return domainauth.TokenSet{}, domainauth.Identity{}, apperrors.Validation("code verifier is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return domainauth.TokenSet{}, domainauth.Identity{},
			apperrors.Wrap(err, apperrors.ErrCodeTokenExchange, "exchange authorization code")
	}

	identity, err := p.extractIdentity(ctx, token)
	if err != nil {
		return domainauth.TokenSet{}, domainauth.Identity{},
			apperrors.Wrap(err, apperrors.ErrCodeTokenExchange, "extract identity")
	}

	return tokenSetFrom(token), identity, nil
}

// Refresh performs the refresh-token grant. The IdP may rotate the refresh
// token; the returned set carries the replacement when it does.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (domainauth.TokenSet, error) {
	if refreshToken == "" {
		return domainauth.TokenSet{}, apperrors.Validation("refresh token is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	src := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		// Only a definitive 4xx from the token endpoint (invalid_grant and
		// friends) means the token was rejected. Transport faults, 5xx, and
		// cancellation are transient; the session must survive them.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return domainauth.TokenSet{}, apperrors.Wrap(err, apperrors.ErrCodeRefreshFailed, "refresh token rejected")
		}
		return domainauth.TokenSet{}, fmt.Errorf("refresh token grant: %w", err)
	}

	return tokenSetFrom(token), nil
}

// EndSessionURL returns the provider-side logout URL, or empty when the
// provider does not advertise one.
func (p *Provider) EndSessionURL(postLogoutRedirect string) string {
	if p.endSessionURL == "" {
		return ""
	}

	u, err := url.Parse(p.endSessionURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// idTokenClaims is the subset of ID-token claims the service consumes.
type idTokenClaims struct {
	Sub    string   `json:"sub"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

func (p *Provider) extractIdentity(ctx context.Context, tok *oauth2.Token) (domainauth.Identity, error) {
	if !p.hasOpenIDScope() {
		return domainauth.Identity{}, nil
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return domainauth.Identity{}, errors.New("missing id_token in token response")
	}

	idTok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return domainauth.Identity{}, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}

	return domainauth.Identity{
		Subject: claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
		Groups:  claims.Groups,
	}, nil
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

func tokenSetFrom(tok *oauth2.Token) domainauth.TokenSet {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}
	return domainauth.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    expiresAt,
	}
}

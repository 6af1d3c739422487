package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOIDC uses the external identity provider for authentication.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock uses mock/dev authentication (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oidc, mock)", v)
	}
}

// OIDCConfig contains the OIDC relying-party client configuration.
type OIDCConfig struct {
	// Authority is the issuer base URL; discovery is performed against
	// {Authority}/.well-known/openid-configuration.
	Authority    string `env:"AUTHORITY"`
	ClientID     string `env:"CLIENT_ID"     envDefault:"auth-service"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"  envDefault:"http://localhost:8080/auth/callback"`
	Scopes       string `env:"SCOPES"        envDefault:"openid profile email offline_access"`

	// EndSessionURL overrides the discovered end_session_endpoint when set.
	EndSessionURL string `env:"END_SESSION_URL"`
}

// SessionConfig contains session lifecycle tuning.
//
// The sliding window advances on each validated access; the absolute window
// is fixed at session creation and is never extended, not even by a token
// refresh.
type SessionConfig struct {
	// SlidingExpirationMinutes is the inactivity timeout.
	SlidingExpirationMinutes int `env:"SESSION_SLIDING_EXPIRATION_MINUTES" envDefault:"60"`

	// AbsoluteExpirationMinutes is the hard ceiling from session creation.
	AbsoluteExpirationMinutes int `env:"SESSION_ABSOLUTE_EXPIRATION_MINUTES" envDefault:"480"`

	// PkceExpirationMinutes bounds how long a login may sit between the
	// authorization redirect and the callback.
	PkceExpirationMinutes int `env:"PKCE_EXPIRATION_MINUTES" envDefault:"10"`

	// RefreshBeforeExpirationSeconds triggers a token refresh when the access
	// token has less than this much lifetime left at validation time.
	RefreshBeforeExpirationSeconds int `env:"REFRESH_TOKEN_BEFORE_EXPIRATION_SECONDS" envDefault:"60"`

	// RotationGraceSeconds is how long a rotated-away session id keeps
	// forwarding reads to its successor before eviction.
	RotationGraceSeconds int `env:"SESSION_ROTATION_GRACE_SECONDS" envDefault:"10"`
}

// SlidingWindow returns the sliding expiration as a duration.
func (s SessionConfig) SlidingWindow() time.Duration {
	return time.Duration(s.SlidingExpirationMinutes) * time.Minute
}

// AbsoluteWindow returns the absolute expiration as a duration.
func (s SessionConfig) AbsoluteWindow() time.Duration {
	return time.Duration(s.AbsoluteExpirationMinutes) * time.Minute
}

// PkceTTL returns the PKCE challenge lifetime as a duration.
func (s SessionConfig) PkceTTL() time.Duration {
	return time.Duration(s.PkceExpirationMinutes) * time.Minute
}

// RefreshThreshold returns the remaining-lifetime threshold that triggers
// a token refresh.
func (s SessionConfig) RefreshThreshold() time.Duration {
	return time.Duration(s.RefreshBeforeExpirationSeconds) * time.Second
}

// RotationGrace returns the rotation grace window as a duration.
func (s SessionConfig) RotationGrace() time.Duration {
	return time.Duration(s.RotationGraceSeconds) * time.Second
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.SlidingExpirationMinutes < 1 {
		s.SlidingExpirationMinutes = 1
	}
	if s.AbsoluteExpirationMinutes < s.SlidingExpirationMinutes {
		s.AbsoluteExpirationMinutes = s.SlidingExpirationMinutes
	}
	if s.PkceExpirationMinutes < 1 {
		s.PkceExpirationMinutes = 1
	}
	if s.RefreshBeforeExpirationSeconds < 0 {
		s.RefreshBeforeExpirationSeconds = 0
	}
	if s.RotationGraceSeconds < 1 {
		s.RotationGraceSeconds = 1
	}
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which token provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oidc"`

	// OIDC client configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// Session lifecycle configuration.
	Session SessionConfig

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.Session.Sanitize()
}

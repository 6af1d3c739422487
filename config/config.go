package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: OIDC client and session lifecycle configuration
//   - redis.go: Redis connection configuration
//   - http.go: HTTP server configuration
type AppConfig struct {
	// IsDev controls development mode behavior (relaxed cookies, dev auth).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Auth groups OIDC client and session lifecycle configuration.
	Auth AuthConfig

	// Redis connection settings for the session and challenge stores.
	Redis RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration.
	HTTP HTTPConfig

	// Statsd metrics emission configuration.
	Statsd StatsdConfig `envPrefix:"STATSD_"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Auth.Sanitize()
	c.HTTP.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

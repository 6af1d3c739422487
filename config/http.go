package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the service (e.g., "https://auth.example.com").
	// Used for generating absolute URLs in redirects.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CookieSecure marks session cookies Secure. Disable only for local
	// development over plain HTTP.
	CookieSecure bool `env:"APP_COOKIE_SECURE" envDefault:"true"`

	// ReadTimeout and WriteTimeout bound request handling. The token
	// endpoint calls made during callback handling must finish inside
	// WriteTimeout.
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`

	// H2C enables cleartext HTTP/2 on the internal listener (the service
	// usually sits behind a TLS-terminating gateway).
	H2C bool `env:"HTTP_H2C" envDefault:"false"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 30 * time.Second
	}
}

package httpx

import (
	"log/slog"
	"net/http"
)

// TokenInjector is an http.RoundTripper that attaches the session's access
// token, carried in the request context by RequireAuth or OptionalAuth, as a
// Bearer header on outbound upstream calls.
//
// Requests without a token in context are forwarded untouched and logged at
// debug level; the upstream decides whether anonymous access is acceptable.
type TokenInjector struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTokenInjectorClient returns an *http.Client whose transport injects the
// context access token into every request.
func NewTokenInjectorClient(base http.RoundTripper, logger *slog.Logger) *http.Client {
	return &http.Client{Transport: &TokenInjector{Base: base, Logger: logger}}
}

func (t *TokenInjector) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *TokenInjector) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper.
func (t *TokenInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	token := GetAccessTokenFromContext(req.Context())
	if token == "" {
		t.logger().DebugContext(req.Context(), "no access token in context, forwarding unauthenticated",
			"host", req.URL.Host)
		return t.base().RoundTrip(req)
	}

	// Per RoundTripper contract the request must not be mutated in place.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base().RoundTrip(clone)
}

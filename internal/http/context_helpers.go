package httpx

import (
	"context"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
)

// claimsKey is an unexported context key type to avoid collisions across
// packages. Centralized here so handlers, middleware, and the token injector
// all use the same key.
type claimsKey struct{}

type accessTokenKey struct{}

// SetClaimsInContext returns a child context carrying the session claims.
// A nil claims value returns the original ctx unchanged.
func SetClaimsInContext(ctx context.Context, claims *domainauth.UserClaimsContext) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetClaimsFromContext returns the session claims from context and a boolean
// indicating presence.
func GetClaimsFromContext(ctx context.Context) (*domainauth.UserClaimsContext, bool) {
	if claims, ok := ctx.Value(claimsKey{}).(*domainauth.UserClaimsContext); ok && claims != nil {
		return claims, true
	}
	return nil, false
}

// SetAccessTokenInContext returns a child context carrying the bearer token
// for upstream calls. An empty token returns the original ctx unchanged.
func SetAccessTokenInContext(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// GetAccessTokenFromContext returns the bearer token from context, or empty
// when the request is unauthenticated.
func GetAccessTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(accessTokenKey{}).(string); ok {
		return token
	}
	return ""
}

// Package mocks provides mock implementations for testing the auth service.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the token provider port. The mocks are generated using go:generate
// directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	provider := mocks.NewMockTokenProvider(ctrl)
//	provider.EXPECT().Refresh(gomock.Any(), "RT1").Return(tokens, nil)
//
// Hand-written in-memory doubles for the stores and the refresh lock live in
// the auth subpackage; they carry real semantics (CAS, TTL, single-use) that
// expectation-based mocks express poorly.
package mocks

// Generate mock for TokenProvider interface from internal/ports.
// This creates MockTokenProvider with methods AuthCodeURL, Exchange,
// Refresh, EndSessionURL.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=token_provider_mock.go github.com/scalehouse/auth-service/internal/ports TokenProvider

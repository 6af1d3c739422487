package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	mockauth "github.com/scalehouse/auth-service/internal/mocks/auth"
	"github.com/scalehouse/auth-service/internal/service"
)

type routerHarness struct {
	handler  http.Handler
	manager  *service.SessionManager
	provider *mockauth.MockTokenProvider
	sessions *mockauth.MemorySessionStore
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()

	provider := mockauth.NewMockTokenProvider()
	sessions := mockauth.NewMemorySessionStore()

	manager := service.NewSessionManager(service.Options{
		Provider:   provider,
		Sessions:   sessions,
		Challenges: mockauth.NewMemoryChallengeStore(),
		Locks:      mockauth.NewMemoryLocker(),
		Config: service.Config{
			SlidingWindow:    time.Hour,
			AbsoluteWindow:   8 * time.Hour,
			PkceTTL:          10 * time.Minute,
			RefreshThreshold: time.Minute,
			RotationGrace:    10 * time.Second,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	handler := NewRouter(RouterServices{
		Auth:   manager,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &routerHarness{handler: handler, manager: manager, provider: provider, sessions: sessions}
}

// loginSession runs the full login flow and returns the session cookie.
func (h *routerHarness) loginSession(t *testing.T) *http.Cookie {
	t.Helper()

	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state="+url.QueryEscape(start.State), nil)
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set on callback")
	return nil
}

func TestLoginHandler_RedirectsToIdP(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/login?redirect_uri=/dashboard", nil)
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "https://mock-idp/authorize")
	assert.Contains(t, location, "state=")
	assert.Contains(t, location, "code_challenge=")
}

func TestLoginHandler_RejectsAbsoluteRedirect(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/login?redirect_uri=https://evil.example.com/", nil)
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)

	// Complete the flow: we must land on "/", not the foreign host.
	state := extractState(t, rec.Header().Get("Location"))
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state="+url.QueryEscape(state), nil)
	h.handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusFound, rec2.Code)
	assert.Equal(t, "/", rec2.Header().Get("Location"))
}

func extractState(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestCallbackHandler_SetsSessionCookie(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/login?redirect_uri=/reports", nil)
	h.handler.ServeHTTP(rec, req)
	state := extractState(t, rec.Header().Get("Location"))

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state="+url.QueryEscape(state), nil)
	h.handler.ServeHTTP(rec2, req2)

	require.Equal(t, http.StatusFound, rec2.Code)
	assert.Equal(t, "/reports", rec2.Header().Get("Location"))

	var cookie *http.Cookie
	for _, c := range rec2.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotEmpty(t, cookie.Value)
}

func TestCallbackHandler_ReplayedState(t *testing.T) {
	h := newRouterHarness(t)
	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	target := "/auth/callback?code=c1&state=" + url.QueryEscape(start.State)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	rec2 := httptest.NewRecorder()
	h.handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Equal(t, "invalid_state", decodeErrorCode(t, rec2))
}

func TestCallbackHandler_IdPDenied(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?error=access_denied&error_description=user+declined", nil)
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization_denied", decodeErrorCode(t, rec))
}

func TestCallbackHandler_ExchangeFailure(t *testing.T) {
	h := newRouterHarness(t)
	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	h.provider.ExchangeFunc = func(context.Context, string, string) (domainauth.TokenSet, domainauth.Identity, error) {
		return domainauth.TokenSet{}, domainauth.Identity{},
			apperrors.New(apperrors.ErrCodeTokenExchange, "token endpoint returned 500")
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=c1&state="+url.QueryEscape(start.State), nil)
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "token_exchange_failed", decodeErrorCode(t, rec))
}

func TestStatusHandler(t *testing.T) {
	h := newRouterHarness(t)

	// Anonymous.
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["authenticated"])

	// Authenticated.
	cookie := h.loginSession(t)
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req2.AddCookie(cookie)
	h.handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	var body2 map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body2))
	assert.Equal(t, true, body2["authenticated"])
	user, ok := body2["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mock-user-1", user["id"])
}

func TestLogoutHandler(t *testing.T) {
	h := newRouterHarness(t)
	cookie := h.loginSession(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "https://mock-idp/logout")

	// The cookie is cleared.
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	// The server-side session is gone.
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req2.AddCookie(cookie)
	h.handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestLogoutHandler_JSONRequested(t *testing.T) {
	h := newRouterHarness(t)
	cookie := h.loginSession(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(cookie)
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["redirect_to"], "mock-idp/logout")
}

func TestLogoutHandler_NoCookieIsIdempotent(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRotateHandler(t *testing.T) {
	h := newRouterHarness(t)
	cookie := h.loginSession(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/rotate", nil)
	req.AddCookie(cookie)
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			rotated = c
		}
	}
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// The new cookie authenticates.
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req2.AddCookie(rotated)
	h.handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHealthz(t *testing.T) {
	h := newRouterHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

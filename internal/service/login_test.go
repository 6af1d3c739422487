package service

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	apperrors "github.com/scalehouse/auth-service/internal/errors"
	"github.com/scalehouse/auth-service/internal/mocks"
	mockauth "github.com/scalehouse/auth-service/internal/mocks/auth"
	"github.com/scalehouse/auth-service/internal/ports"
)

func TestBeginLogin(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	var captured ports.AuthCodeRequest
	h.provider.AuthCodeURLFunc = func(req ports.AuthCodeRequest) string {
		captured = req
		return "https://idp.example.com/authorize?state=" + req.State
	}

	start, err := h.manager.BeginLogin(context.Background(), "/dashboard")
	require.NoError(t, err)

	assert.NotEmpty(t, start.State)
	assert.Contains(t, start.AuthURL, start.State)
	assert.Equal(t, start.State, captured.State)
	assert.NotEmpty(t, captured.CodeChallenge)

	// The stored challenge carries the verifier matching the challenge sent
	// to the IdP.
	ch, err := h.challenges.Consume(context.Background(), start.State)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.CodeVerifier)
	assert.Equal(t, captured.CodeChallenge, ch.CodeChallenge)
	assert.Equal(t, "/dashboard", ch.ReturnURL)
}

func TestBeginLogin_StatesAreUnique(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		start, err := h.manager.BeginLogin(context.Background(), "/")
		require.NoError(t, err)
		assert.False(t, seen[start.State])
		seen[start.State] = true
	}
}

func TestCompleteLogin_HappyPath(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	start, err := h.manager.BeginLogin(context.Background(), "/reports")
	require.NoError(t, err)

	var seenVerifier string
	h.provider.ExchangeFunc = func(_ context.Context, code, verifier string) (domainauth.TokenSet, domainauth.Identity, error) {
		seenVerifier = verifier
		return domainauth.TokenSet{
				AccessToken:  "AT1",
				RefreshToken: "RT1",
				TokenType:    "Bearer",
				ExpiresAt:    h.clock.Now().Add(time.Hour),
			}, domainauth.Identity{
				Subject: "user-42",
				Email:   "u42@example.com",
			}, nil
	}

	result, err := h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "auth-code",
		State: start.State,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "/reports", result.RedirectURI)
	assert.NotEmpty(t, seenVerifier)

	// The created session is immediately valid.
	res, err := h.manager.Validate(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Equal(t, ValidationOK, res.Status)
	assert.Equal(t, "user-42", res.Session.UserID)
}

func TestCompleteLogin_DefaultRedirect(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	start, err := h.manager.BeginLogin(context.Background(), "")
	require.NoError(t, err)

	result, err := h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "auth-code",
		State: start.State,
	})
	require.NoError(t, err)
	assert.Equal(t, "/", result.RedirectURI)
}

func TestCompleteLogin_DoubleCallback(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	in := CallbackInput{Code: "auth-code", State: start.State}

	_, err = h.manager.CompleteLogin(context.Background(), in)
	require.NoError(t, err)

	// A replayed callback with the same state must be rejected, and the
	// token endpoint must not be hit a second time.
	_, err = h.manager.CompleteLogin(context.Background(), in)
	assert.True(t, apperrors.IsInvalidState(err))
	assert.EqualValues(t, 1, h.provider.ExchangeCalls.Load())
}

func TestCompleteLogin_UnknownState(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	_, err := h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "auth-code",
		State: "never-issued",
	})
	assert.True(t, apperrors.IsInvalidState(err))
	assert.Zero(t, h.provider.ExchangeCalls.Load())
}

func TestCompleteLogin_ExpiredChallenge(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.PkceTTL = 50 * time.Millisecond
	h := newTestHarness(t, cfg)

	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	_, err = h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "auth-code",
		State: start.State,
	})
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestCompleteLogin_IdPDenied(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	_, err := h.manager.CompleteLogin(context.Background(), CallbackInput{
		Error:            "access_denied",
		ErrorDescription: "user declined consent",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthorizationDenied(err))
	assert.Contains(t, err.Error(), "access_denied")
	assert.Zero(t, h.provider.ExchangeCalls.Load())
}

func TestCompleteLogin_MissingParameters(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	_, err := h.manager.CompleteLogin(context.Background(), CallbackInput{State: "s"})
	assert.True(t, apperrors.IsAuthorizationDenied(err))

	_, err = h.manager.CompleteLogin(context.Background(), CallbackInput{Code: "c"})
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestCompleteLogin_ExchangeFailure(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	h.provider.ExchangeFunc = func(context.Context, string, string) (domainauth.TokenSet, domainauth.Identity, error) {
		return domainauth.TokenSet{}, domainauth.Identity{},
			apperrors.New(apperrors.ErrCodeTokenExchange, "token endpoint returned 400")
	}

	_, err = h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "bad-code",
		State: start.State,
	})
	assert.True(t, apperrors.IsTokenExchange(err))

	// The state was consumed: a retry needs a fresh login.
	_, err = h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "bad-code",
		State: start.State,
	})
	assert.True(t, apperrors.IsInvalidState(err))
}

func TestLoginThenLogout(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	start, err := h.manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)

	result, err := h.manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "auth-code",
		State: start.State,
	})
	require.NoError(t, err)
	require.True(t, h.manager.IsValidSession(context.Background(), result.SessionID))

	require.NoError(t, h.manager.Logout(context.Background(), result.SessionID))
	assert.False(t, h.manager.IsValidSession(context.Background(), result.SessionID))

	// Idempotent.
	assert.NoError(t, h.manager.Logout(context.Background(), result.SessionID))
}

// TestCompleteLogin_ProviderContract pins the exact arguments the provider
// receives: the code from the callback and the verifier stored at login
// start, never the challenge.
func TestCompleteLogin_ProviderContract(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mocks.NewMockTokenProvider(ctrl)
	challenges := mockauth.NewMemoryChallengeStore()

	manager := NewSessionManager(Options{
		Provider:   provider,
		Sessions:   mockauth.NewMemorySessionStore(),
		Challenges: challenges,
		Locks:      mockauth.NewMemoryLocker(),
		Config:     defaultTestConfig(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var verifier string
	provider.EXPECT().
		AuthCodeURL(gomock.Any()).
		DoAndReturn(func(req ports.AuthCodeRequest) string {
			ch, err := challenges.Consume(context.Background(), req.State)
			require.NoError(t, err)
			verifier = ch.CodeVerifier
			require.NoError(t, challenges.Put(context.Background(), ch, time.Minute))
			return "https://idp.example.com/authorize"
		})

	start, err := manager.BeginLogin(context.Background(), "/")
	require.NoError(t, err)
	require.NotEmpty(t, verifier)

	provider.EXPECT().
		Exchange(gomock.Any(), "code-1", verifier).
		Return(domainauth.TokenSet{
			AccessToken: "AT1",
			ExpiresAt:   time.Now().Add(time.Hour),
		}, domainauth.Identity{Subject: "user-1"}, nil)

	_, err = manager.CompleteLogin(context.Background(), CallbackInput{
		Code:  "code-1",
		State: start.State,
	})
	require.NoError(t, err)
}

func TestLogoutURL(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig())

	u := h.manager.LogoutURL("https://app.example.com/")
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(parsed.Path, "/logout"))
}

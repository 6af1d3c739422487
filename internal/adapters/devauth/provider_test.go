package devauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalehouse/auth-service/internal/ports"
)

func TestProvider_AuthCodeURLAndExchange(t *testing.T) {
	prov, err := NewProvider(Config{UserID: "dev-user", Email: "dev@example.com"})
	require.NoError(t, err)

	authURL := prov.AuthCodeURL(ports.AuthCodeRequest{State: "s1", CodeChallenge: "c1"})
	assert.True(t, strings.HasPrefix(authURL, "/auth/callback?"))
	assert.Contains(t, authURL, "state=s1")
	assert.Contains(t, authURL, "code=dev")

	tokens, identity, err := prov.Exchange(context.Background(), "dev", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", identity.Subject)
	assert.Equal(t, "dev@example.com", identity.Email)
	assert.True(t, strings.HasPrefix(tokens.AccessToken, "dev-at-"))
	assert.True(t, strings.HasPrefix(tokens.RefreshToken, "dev-rt-"))
	assert.True(t, tokens.ExpiresAt.After(time.Now()))
}

func TestProvider_Refresh(t *testing.T) {
	prov, err := NewProvider(Config{UserID: "dev-user", Email: "dev@example.com"})
	require.NoError(t, err)

	tokens, _, err := prov.Exchange(context.Background(), "dev", "v")
	require.NoError(t, err)

	refreshed, err := prov.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)

	_, err = prov.Refresh(context.Background(), "")
	assert.Error(t, err)
}

func TestProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{Email: "dev@example.com"})
	assert.Error(t, err)

	_, err = NewProvider(Config{UserID: "dev-user"})
	assert.Error(t, err)
}

func TestProvider_EndSessionURL(t *testing.T) {
	prov, err := NewProvider(Config{UserID: "dev-user", Email: "dev@example.com"})
	require.NoError(t, err)
	assert.Empty(t, prov.EndSessionURL("https://app.example.com/"))
}

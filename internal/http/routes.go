package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Auth         AuthServiceInterface
	SessionStore Healther
	CookieDomain string
	CookieSecure bool
	BaseURL      string
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	authHandlers := &AuthHandlers{
		Svc:          services.Auth,
		CookieDomain: services.CookieDomain,
		CookieSecure: services.CookieSecure,
		BaseURL:      services.BaseURL,
		Logger:       services.Logger,
	}

	mux.HandleFunc("GET /auth/login", authHandlers.Login)
	mux.HandleFunc("GET /auth/callback", authHandlers.Callback)
	mux.HandleFunc("POST /auth/logout", authHandlers.Logout)
	mux.HandleFunc("GET /auth/status", authHandlers.Status)

	requireAuth := RequireAuth(services.Auth)
	mux.Handle("POST /auth/rotate", requireAuthRotate(requireAuth, authHandlers))
	mux.Handle("GET /auth/me", requireAuth(http.HandlerFunc(meHandler)))

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.Handle("GET /readyz", readyHandler(services.SessionStore))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

// requireAuthRotate wraps Rotate with RequireAuth so only live sessions can
// rotate, while Rotate itself still reads the cookie for the old id.
func requireAuthRotate(requireAuth func(http.Handler) http.Handler, h *AuthHandlers) http.Handler {
	return requireAuth(http.HandlerFunc(h.Rotate))
}

// meHandler echoes the authenticated user's claims.
func meHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetClaimsFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w, "authentication_required")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": claims.SessionID,
		"user_id":    claims.UserID,
		"email":      claims.Email,
		"name":       claims.Name,
	})
}

package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/scalehouse/auth-service/internal/domain/auth"
	"github.com/scalehouse/auth-service/internal/service"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "session_id"

// AuthServiceInterface defines the session manager operations the HTTP layer
// depends on.
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, returnURL string) (service.LoginStart, error)
	CompleteLogin(ctx context.Context, in service.CallbackInput) (service.LoginResult, error)
	Validate(ctx context.Context, sessionID string) (service.ValidationResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutURL(postLogoutRedirect string) string
	RotateSessionID(ctx context.Context, oldSessionID string) (string, error)
}

// AuthHandlers provides HTTP handlers for the login flow and session
// endpoints.
type AuthHandlers struct {
	Svc          AuthServiceInterface
	CookieDomain string
	CookieSecure bool
	BaseURL      string
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login handles the login initiation endpoint.
// GET /auth/login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	// The post-login destination travels server-side with the PKCE
	// challenge, so nothing here depends on cookies surviving the IdP
	// round-trip.
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	start, err := h.Svc.BeginLogin(r.Context(), redirectURI)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin login failed", "error", err)
		WriteAppError(w, err)
		return
	}

	http.Redirect(w, r, start.AuthURL, http.StatusFound)
}

// Callback handles the IdP redirect back to us.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.Svc.CompleteLogin(r.Context(), service.CallbackInput{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.logger().WarnContext(r.Context(), "login callback rejected", "error", err)
		WriteAppError(w, err)
		return
	}

	h.setSessionCookie(w, r, result.Session)
	http.Redirect(w, r, safeRedirectPath(result.RedirectURI), http.StatusFound)
}

// Logout handles the logout endpoint.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if logoutErr := h.Svc.Logout(r.Context(), cookie.Value); logoutErr != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", logoutErr)
		}
	}
	h.clearSessionCookie(w, r)

	// Hand the browser to the IdP's end-session endpoint when it has one, so
	// the IdP-side single sign-on session dies too.
	target := h.Svc.LogoutURL(h.postLogoutRedirect())
	if target == "" {
		target = "/"
	}

	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":      "success",
			"redirect_to": target,
		})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Status returns the current authentication status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		WriteJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	res, err := h.Svc.Validate(r.Context(), cookie.Value)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "session validation failed", "error", err)
		WriteAppError(w, err)
		return
	}
	if !res.Valid() {
		h.clearSessionCookie(w, r)
		WriteJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
			"reason":        string(res.Status),
		})
		return
	}

	// A rotated id resolves to its successor; move the cookie forward so the
	// old id stops circulating before its grace window closes.
	if res.Session.ID != cookie.Value {
		h.setSessionCookie(w, r, *res.Session)
	}

	claims := res.Session.Claims()
	WriteJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": map[string]any{
			"id":    claims.UserID,
			"email": claims.Email,
			"name":  claims.Name,
		},
		"expires_at": res.Session.SlidingDeadline,
	})
}

// Rotate replaces the caller's session id, for use after privilege changes.
// POST /auth/rotate.
func (h *AuthHandlers) Rotate(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     http.ErrNoCookie,
		})
		return
	}

	newID, err := h.Svc.RotateSessionID(r.Context(), cookie.Value)
	if err != nil {
		h.logger().WarnContext(r.Context(), "session rotation failed", "error", err)
		WriteAppError(w, err)
		return
	}

	res, err := h.Svc.Validate(r.Context(), newID)
	if err != nil || !res.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "session_expired",
			Err:     http.ErrNoCookie,
		})
		return
	}
	h.setSessionCookie(w, r, *res.Session)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}

func (h *AuthHandlers) isSecure(r *http.Request) bool {
	return h.CookieSecure || r.TLS != nil ||
		strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// setSessionCookie writes the session cookie. The cookie only carries the
// opaque id; lifetimes are enforced server-side, so the cookie lives until
// the session's hard ceiling.
func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, r *http.Request, s domainauth.UserSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.ID,
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   h.isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(s.AbsoluteDeadline).Seconds()),
	})
}

// clearSessionCookie expires the session cookie, mirroring the attributes
// used when setting it so browsers actually delete it.
func (h *AuthHandlers) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   h.isSecure(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandlers) postLogoutRedirect() string {
	if h.BaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(h.BaseURL, "/") + "/"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

// safeRedirectPath ensures the provided redirect is a same-origin relative
// path starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	if strings.HasPrefix(candidate, "//") {
		return "/"
	}
	return candidate
}

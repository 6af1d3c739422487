package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/scalehouse/auth-service/internal/service"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns a middleware that validates the session cookie on every
// request. Valid sessions get their claims and access token stashed in the
// request context; everything else is a 401 whose error code names why.
func RequireAuth(authSvc AuthServiceInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil {
				writeUnauthenticated(w, "authentication_required")
				return
			}

			res, err := authSvc.Validate(r.Context(), cookie.Value)
			if err != nil {
				WriteAppError(w, err)
				return
			}
			if !res.Valid() {
				writeUnauthenticated(w, unauthenticatedCode(res.Status))
				return
			}

			claims := res.Session.Claims()
			ctx := SetClaimsInContext(r.Context(), &claims)
			ctx = SetAccessTokenInContext(ctx, res.AccessToken)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns a middleware that attaches session information when a
// valid session cookie is present and continues anonymously otherwise.
func OptionalAuth(authSvc AuthServiceInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				if res, err := authSvc.Validate(r.Context(), cookie.Value); err == nil && res.Valid() {
					claims := res.Session.Claims()
					ctx := SetClaimsInContext(r.Context(), &claims)
					ctx = SetAccessTokenInContext(ctx, res.AccessToken)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthenticatedCode(status service.ValidationStatus) string {
	switch status {
	case service.ValidationExpired:
		return "session_expired"
	case service.ValidationRefreshFailed:
		return "refresh_failed"
	default:
		return "authentication_required"
	}
}

func writeUnauthenticated(w http.ResponseWriter, code string) {
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: code,
		Err:     errors.New("authentication required"),
	})
}

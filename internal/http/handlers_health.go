package httpx

import (
	"context"
	"net/http"
)

// Healther reports the liveness of a backing dependency.
type Healther interface {
	Health(ctx context.Context) error
}

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler checks the session store and reports readiness.
func readyHandler(store Healther) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Health(r.Context()); err != nil {
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "store_unavailable",
					Err:     err,
				})
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// Package metrics adapts the StatsD sink to the session manager's lifecycle
// events.
package metrics

import (
	"time"

	"github.com/scalehouse/auth-service/internal/observability/statsd"
	"github.com/scalehouse/auth-service/internal/service"
)

// AuthRecorder emits session lifecycle metrics to a StatsD sink.
type AuthRecorder struct {
	sink statsd.Sink
}

var _ service.Metrics = (*AuthRecorder)(nil)

// NewAuthRecorder wraps the given sink.
func NewAuthRecorder(sink statsd.Sink) *AuthRecorder {
	return &AuthRecorder{sink: sink}
}

// LoginCompleted counts callback outcomes: success, denied, invalid_state,
// exchange_failed.
func (r *AuthRecorder) LoginCompleted(result string) {
	r.sink.Count("login", 1, map[string]string{"result": result})
}

// ValidationChecked counts validation outcomes by status.
func (r *AuthRecorder) ValidationChecked(status string) {
	r.sink.Count("session_validation", 1, map[string]string{"status": status})
}

// TokenRefreshed counts refresh grants and records their latency.
func (r *AuthRecorder) TokenRefreshed(result string, elapsed time.Duration) {
	tags := map[string]string{"result": result}
	r.sink.Count("token_refresh", 1, tags)
	r.sink.Timing("token_refresh_duration", elapsed, tags)
}

// SessionRotated counts session id rotations.
func (r *AuthRecorder) SessionRotated() {
	r.sink.Count("session_rotation", 1, nil)
}

package orchestrator

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/archive-ai/orchestrator/internal/logging"
)

// withRequestID attaches a fresh request id to every inbound request's
// context, grounded on the teacher's internal/observability/ctxlogger.go
// context-carried-logger pattern, and logs a one-line access record on
// completion.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.FromContext(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request_handled")
	})
}

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
)

const HeaderXRequestID = "X-Request-Id"

// RequestID stamps every request with an id (reusing an inbound one if the
// caller already set it) and carries it on the context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderXRequestID, id)
		ctx := appctx.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

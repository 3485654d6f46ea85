package middleware

import (
	"context"
	"net/http"

	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/response"
)

// RateLimiter is the subset of ratelimit.Limiter the observability surface
// depends on, kept narrow so handlers can be tested against a fake.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects a request with 429 once the caller (identified by
// bearer subject, falling back to remote IP if the request reached here
// unauthenticated) exceeds the configured quota. A limiter error fails
// open: an outage of the limiter's backing store must not take down the
// surface it was meant to protect.
func RateLimit(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Subject(r)
			if key == "" {
				key = r.RemoteAddr
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil || allowed {
				next.ServeHTTP(w, r)
				return
			}

			rid := appctx.GetRequestID(r.Context())
			w.Header().Set("Retry-After", "60")
			response.Fail(w, http.StatusTooManyRequests, "rate_limited", "too many requests", rid)
		})
	}
}

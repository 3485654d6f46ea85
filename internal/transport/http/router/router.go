// Package router assembles the observability HTTP surface: liveness,
// readiness, Prometheus exposition, and the authenticated/rate-limited
// stats lookups.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmetrics/activity-aggregator/internal/transport/http/handlers"
	appmw "github.com/flowmetrics/activity-aggregator/internal/transport/http/middleware"
)

func New(health *handlers.Health, stats *handlers.Stats, auth *appmw.Auth, limiter appmw.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(appmw.RequestID)
	r.Use(appmw.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(appmw.AccessLog)
	r.Use(appmw.Metrics)

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Require)
		r.Use(appmw.RateLimit(limiter))
		r.Get("/stats/{userID}/{eventType}", stats.GetKey)
		r.Get("/stats/{userID}", stats.GetUser)
	})

	return r
}

package handlers

import (
	"context"
	"net/http"

	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/response"
)

// Pinger is the subset of store.Store the readiness probe needs.
type Pinger interface {
	Ready(ctx context.Context) error
}

type Health struct {
	store Pinger
}

func NewHealth(store Pinger) *Health {
	return &Health{store: store}
}

// Healthz is liveness: it reports healthy as soon as the process is
// serving, regardless of downstream state.
func (h *Health) Healthz(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is readiness: it reports healthy only when the durable store
// answers a cheap probe, since a consumer that can't flush shouldn't be
// counted as ready to take load.
func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	rid := appctx.GetRequestID(r.Context())
	if err := h.store.Ready(r.Context()); err != nil {
		response.Fail(w, http.StatusServiceUnavailable, "not_ready", "store unreachable", rid)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"status": "ready"})
}

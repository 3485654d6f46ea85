package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
	appctx "github.com/flowmetrics/activity-aggregator/internal/pkg/context"
	"github.com/flowmetrics/activity-aggregator/internal/transport/http/response"
)

// CacheReader is the subset of cache.Cache the stats endpoints read from.
type CacheReader interface {
	Count(userID int64, eventType string) int64
	CountUser(userID int64) []domain.UserEventStats
}

// StatsStore is the subset of store.Store the stats endpoints read from.
type StatsStore interface {
	Get(ctx context.Context, userID int64, eventType string) (domain.UserEventStats, error)
	GetUser(ctx context.Context, userID int64) ([]domain.UserEventStats, error)
}

type statView struct {
	UserID    int64  `json:"userId"`
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}

// Stats serves the single-key and per-user observability lookups. Both
// merge the live cache count with the durable store count: the sum is an
// approximation good enough for dashboards, not a correctness-critical
// read path (the durable store alone remains authoritative once flushed).
type Stats struct {
	cache CacheReader
	store StatsStore
}

func NewStats(cache CacheReader, store StatsStore) *Stats {
	return &Stats{cache: cache, store: store}
}

func (s *Stats) GetKey(w http.ResponseWriter, r *http.Request) {
	rid := appctx.GetRequestID(r.Context())

	userID, err := parseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid_user_id", err.Error(), rid)
		return
	}
	eventType := strings.TrimSpace(chi.URLParam(r, "eventType"))
	if eventType == "" {
		response.Fail(w, http.StatusBadRequest, "invalid_event_type", "event_type must be non-empty", rid)
		return
	}

	durable, err := s.store.Get(r.Context(), userID, eventType)
	if err != nil {
		response.Fail(w, http.StatusInternalServerError, "store_error", "durable lookup failed", rid)
		return
	}

	live := s.cache.Count(userID, eventType)
	response.Data(w, http.StatusOK, statView{
		UserID:    userID,
		EventType: eventType,
		Count:     durable.Count + live,
	})
}

func (s *Stats) GetUser(w http.ResponseWriter, r *http.Request) {
	rid := appctx.GetRequestID(r.Context())

	userID, err := parseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		response.Fail(w, http.StatusBadRequest, "invalid_user_id", err.Error(), rid)
		return
	}

	durable, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		response.Fail(w, http.StatusInternalServerError, "store_error", "durable lookup failed", rid)
		return
	}

	merged := make(map[string]int64, len(durable))
	for _, row := range durable {
		merged[row.EventType] = row.Count
	}
	for _, row := range s.cache.CountUser(userID) {
		merged[row.EventType] += row.Count
	}

	out := make([]statView, 0, len(merged))
	for eventType, count := range merged {
		out = append(out, statView{UserID: userID, EventType: eventType, Count: count})
	}
	response.Data(w, http.StatusOK, out)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, domain.ErrInvalidUserID
	}
	return id, nil
}

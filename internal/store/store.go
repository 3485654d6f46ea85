// Package store defines the durable-store contract the flusher depends on.
package store

import (
	"context"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

// Store is the durable collaborator the core depends on. Implementations
// must make UpsertBatch an idempotent merge: applying the same batch twice
// must be equivalent to applying it once plus once more (i.e. commutative
// addition), never an overwrite.
type Store interface {
	// UpsertBatch applies every (user_id, event_type, delta) triple within
	// one transaction. An empty input is a no-op. Rolls back entirely on
	// any failure.
	UpsertBatch(ctx context.Context, stats []domain.UserEventStats) error

	// Upsert applies a single row outside the hot path.
	Upsert(ctx context.Context, one domain.UserEventStats) error

	// Get returns the durable count for one key, not merged with any cache.
	Get(ctx context.Context, userID int64, eventType string) (domain.UserEventStats, error)

	// GetUser returns the durable counts for every event type recorded
	// against userID.
	GetUser(ctx context.Context, userID int64) ([]domain.UserEventStats, error)

	// Initialize ensures the target table and its (user_id) index exist.
	Initialize(ctx context.Context) error

	// Ready reports whether the store is currently reachable.
	Ready(ctx context.Context) error
}

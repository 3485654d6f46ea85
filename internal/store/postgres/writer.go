package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

// UpsertBatch applies every stats row within one transaction, merging each
// delta into the durable count via ON CONFLICT DO UPDATE. An empty input
// never opens a transaction.
func (s *Store) UpsertBatch(ctx context.Context, stats []domain.UserEventStats) error {
	if len(stats) == 0 {
		return nil
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		sql, args := buildUpsertBatch(stats)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// Upsert applies a single row; used ad hoc, not on the hot path.
func (s *Store) Upsert(ctx context.Context, one domain.UserEventStats) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, upsertOneSQL, one.UserID, one.EventType, one.Count)
		return err
	})
}

const upsertOneSQL = `
INSERT INTO user_event_stats (user_id, event_type, count)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, event_type)
DO UPDATE SET count = user_event_stats.count + EXCLUDED.count
`

func buildUpsertBatch(stats []domain.UserEventStats) (string, []any) {
	placeholders := make([]string, 0, len(stats))
	args := make([]any, 0, len(stats)*3)

	for i, st := range stats {
		base := i * 3
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, st.UserID, st.EventType, st.Count)
	}

	sql := "INSERT INTO user_event_stats (user_id, event_type, count) VALUES " +
		strings.Join(placeholders, ", ") +
		" ON CONFLICT (user_id, event_type) DO UPDATE SET count = user_event_stats.count + EXCLUDED.count"

	return sql, args
}

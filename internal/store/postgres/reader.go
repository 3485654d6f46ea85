package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

// Get returns the durable count for one key; a missing row reads as
// count == 0 rather than an error, matching the cache's lazily-created
// zero-value semantics.
func (s *Store) Get(ctx context.Context, userID int64, eventType string) (domain.UserEventStats, error) {
	out := domain.UserEventStats{UserID: userID, EventType: eventType}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT count FROM user_event_stats WHERE user_id = $1 AND event_type = $2`, userID, eventType)
		err := row.Scan(&out.Count)
		if errors.Is(err, pgx.ErrNoRows) {
			out.Count = 0
			return nil
		}
		return err
	})
	if err != nil {
		return domain.UserEventStats{}, err
	}
	return out, nil
}

// GetUser returns the durable counts for every event type recorded against
// userID.
func (s *Store) GetUser(ctx context.Context, userID int64) ([]domain.UserEventStats, error) {
	var out []domain.UserEventStats
	err := s.withRetry(ctx, func(ctx context.Context) error {
		out = nil
		rows, err := s.pool.Query(ctx, `SELECT event_type, count FROM user_event_stats WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var st domain.UserEventStats
			st.UserID = userID
			if err := rows.Scan(&st.EventType, &st.Count); err != nil {
				return err
			}
			out = append(out, st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Package postgres is the durable-store implementation backing
// internal/store.Store, built on pgx/pgxpool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool with bounded retry and exposes the
// store.Store contract.
type Store struct {
	pool *pgxpool.Pool

	maxRetries     int
	retryBase      time.Duration
	commandTimeout time.Duration
}

// Config controls retry/backoff and per-command timeout.
type Config struct {
	MaxRetries     int
	RetryBase      time.Duration
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBase:      2 * time.Second,
		CommandTimeout: 30 * time.Second,
	}
}

// Connect opens a pgxpool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultConfig().CommandTimeout
	}
	return &Store{pool: pool, maxRetries: cfg.MaxRetries, retryBase: cfg.RetryBase, commandTimeout: cfg.CommandTimeout}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready performs a cheap liveness probe.
func (s *Store) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS user_event_stats (
	user_id    BIGINT NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	count      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, event_type)
);
CREATE INDEX IF NOT EXISTS idx_user_event_stats_user_id ON user_event_stats (user_id);
`

// Initialize ensures the target table and its (user_id) index exist.
func (s *Store) Initialize(ctx context.Context) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, createTableSQL)
		return err
	})
}

package postgres

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// isRetryable classifies connection errors, timeouts, and serialization
// failures as transient; everything else (bad SQL, constraint violations,
// auth failures) propagates on the first attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 = connection exception; 40001 = serialization failure;
		// 40P01 = deadlock detected.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return true
		}
		return false
	}
	// Unrecognized error shape from the driver (e.g. pool exhaustion
	// message) — treat conservatively as non-retryable; the bounded retry
	// above is for known-transient classes only.
	return false
}

// backoffFor returns an exponential-with-jitter backoff: base, doubling per
// attempt, +/-10% jitter.
func backoffFor(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + jitter
}

// withRetry runs fn up to s.maxRetries+1 times, retrying only on
// isRetryable errors and sleeping with exponential backoff between
// attempts. Non-retryable errors return immediately.
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		cmdCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
		err := fn(cmdCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt == s.maxRetries {
			break
		}
		select {
		case <-time.After(backoffFor(attempt, s.retryBase)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Package deadletter gives operators visibility into records the consumer
// loop could not process, without making that visibility a correctness
// dependency: every Publish call is best-effort and never blocks or fails
// the caller.
package deadletter

import (
	"context"
)

// Sink is the dead-letter contract the broker consumer loop depends on.
type Sink interface {
	Publish(ctx context.Context, reason string, partition int, offset int64, raw []byte) error
	Close() error
}

// Noop discards every record; used when DEADLETTER_ENABLED=false.
type Noop struct{}

func (Noop) Publish(ctx context.Context, reason string, partition int, offset int64, raw []byte) error {
	return nil
}
func (Noop) Close() error { return nil }

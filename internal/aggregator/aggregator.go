// Package aggregator wires the cache and the durable store together behind
// a single fanout.Observer, and owns the periodic flush timer.
package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmetrics/activity-aggregator/internal/cache"
	"github.com/flowmetrics/activity-aggregator/internal/domain"
	"github.com/flowmetrics/activity-aggregator/internal/metrics"
	"github.com/flowmetrics/activity-aggregator/internal/store"
)

const DefaultFlushInterval = 10 * time.Second

// Aggregator is the sole in-process observer of the fan-out. It owns the
// cache exclusively and periodically drains it into the durable store.
type Aggregator struct {
	cache *cache.Cache
	store store.Store
	log   zerolog.Logger

	flushInterval time.Duration
	flushMu       sync.Mutex
	flushSeq      atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Aggregator over the given cache and store.
func New(c *cache.Cache, s store.Store, flushInterval time.Duration, log zerolog.Logger) *Aggregator {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Aggregator{
		cache:         c,
		store:         s,
		flushInterval: flushInterval,
		log:           log.With().Str("component", "aggregator").Logger(),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Cache exposes the underlying cache for observability reads (merging live
// counts with durable ones).
func (a *Aggregator) Cache() *cache.Cache { return a.cache }

// Watermark returns the number of flushes (successful or no-op) completed so
// far. A consumer running in deferred offset-commit mode must wait for
// Watermark to advance by at least two past the value it observed right
// after handing that message's event to Publish before committing that
// message's offset: the flush immediately after that observation may
// already have taken its snapshot before the increment landed, so it is the
// flush after *that* one which is guaranteed to have started once the
// increment existed, and therefore to have either drained it or found it
// already drained by a later flush. Advancing by only one is not enough and
// re-opens the loss window deferred mode exists to close.
func (a *Aggregator) Watermark() uint64 { return a.flushSeq.Load() }

// Run starts the periodic flush ticker on its own goroutine and returns
// immediately. The goroutine exits when ctx is cancelled or Stop is called.
func (a *Aggregator) Run(ctx context.Context) {
	go a.loop(ctx)
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.log.Error().Err(err).Msg("periodic flush failed; retained in cache for next tick")
			}
		}
	}
}

// Stop halts the periodic ticker without flushing. Callers that need a
// final drain must call Flush explicitly (per the shutdown protocol, OnCompleted
// already does this).
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

// OnNext increments the cache counter for the event's key. Never blocks on
// the flush mutex: the cache's per-shard locking makes this safe to call
// concurrently with Flush.
func (a *Aggregator) OnNext(ctx context.Context, event *domain.UserEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Error().Interface("panic", rec).Msg("on_next panicked; swallowed to protect fan-out")
		}
	}()
	if event == nil {
		return
	}
	a.cache.Increment(event.UserID, event.EventType)
}

// OnError logs the broker-level error. It never mutates the cache.
func (a *Aggregator) OnError(err error) {
	a.log.Error().Err(err).Msg("received broker error")
}

// OnCompleted performs one final synchronous flush and stops the periodic
// timer. After this returns the aggregator is inert.
func (a *Aggregator) OnCompleted() {
	a.log.Info().Msg("fan-out completed; performing final flush")
	if err := a.Flush(context.Background()); err != nil {
		a.log.Error().Err(err).Msg("final flush failed")
	}
	a.Stop()
}

// Flush drains the cache into the store in one transaction and prunes the
// drained keys on success. A failed store write leaves the cache untouched
// so the same counters are retried on the next tick.
func (a *Aggregator) Flush(ctx context.Context) error {
	metrics.CacheSize.Set(float64(a.cache.Size()))

	if a.cache.IsEmpty() {
		a.flushSeq.Add(1)
		metrics.FlushesTotal.WithLabelValues("noop").Inc()
		return nil
	}

	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	snapshot := a.cache.Snapshot()
	if len(snapshot) == 0 {
		a.flushSeq.Add(1)
		metrics.FlushesTotal.WithLabelValues("noop").Inc()
		return nil
	}

	start := time.Now()
	err := a.store.UpsertBatch(ctx, snapshot)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		a.log.Error().Err(err).Int("keys", len(snapshot)).Msg("store upsert failed; keys retained in cache")
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return err
	}

	a.cache.RemoveDrained(snapshot)
	a.flushSeq.Add(1)
	metrics.FlushesTotal.WithLabelValues("ok").Inc()
	metrics.FlushedKeysTotal.Add(float64(len(snapshot)))
	metrics.CacheSize.Set(float64(a.cache.Size()))
	a.log.Debug().Int("keys", len(snapshot)).Msg("flush complete")
	return nil
}

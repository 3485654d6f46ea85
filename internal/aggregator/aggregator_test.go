package aggregator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/flowmetrics/activity-aggregator/internal/cache"
	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

// fakeStore is an in-memory double satisfying store.Store for tests.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[domain.StatsKey]int64
	failNext bool
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[domain.StatsKey]int64)}
}

func (f *fakeStore) UpsertBatch(ctx context.Context, stats []domain.UserEventStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext {
		f.failNext = false
		return errors.New("boom")
	}
	for _, s := range stats {
		f.rows[s.Key()] += s.Count
	}
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, one domain.UserEventStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[one.Key()] += one.Count
	return nil
}

func (f *fakeStore) Get(ctx context.Context, userID int64, eventType string) (domain.UserEventStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.StatsKey{UserID: userID, EventType: eventType}
	return domain.UserEventStats{UserID: userID, EventType: eventType, Count: f.rows[key]}, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) ([]domain.UserEventStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UserEventStats
	for k, v := range f.rows {
		if k.UserID == userID {
			out = append(out, domain.UserEventStats{UserID: k.UserID, EventType: k.EventType, Count: v})
		}
	}
	return out, nil
}

func (f *fakeStore) Initialize(ctx context.Context) error { return nil }
func (f *fakeStore) Ready(ctx context.Context) error       { return nil }

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func mustEvent(t *testing.T, userID int64, eventType string) *domain.UserEvent {
	e, err := domain.NewUserEvent(userID, eventType, time.Now(), nil)
	require.NoError(t, err)
	return &e
}

func TestFlush_EmptyCache_NoStoreCall(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())

	require.NoError(t, a.Flush(context.Background()))
	require.Equal(t, 0, s.calls)
}

func TestScenario1_SingleEventThenFlush(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())

	a.OnNext(context.Background(), mustEvent(t, 123, "click"))
	require.NoError(t, a.Flush(context.Background()))

	got, err := s.Get(context.Background(), 123, "click")
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Count)
	require.True(t, a.Cache().IsEmpty())
}

func TestScenario2_MultipleKeysThenFlush(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	a.OnNext(ctx, mustEvent(t, 123, "click"))
	a.OnNext(ctx, mustEvent(t, 123, "click"))
	a.OnNext(ctx, mustEvent(t, 123, "click"))
	a.OnNext(ctx, mustEvent(t, 123, "hover"))
	a.OnNext(ctx, mustEvent(t, 123, "hover"))
	a.OnNext(ctx, mustEvent(t, 456, "click"))

	require.NoError(t, a.Flush(ctx))

	c1, _ := s.Get(ctx, 123, "click")
	h1, _ := s.Get(ctx, 123, "hover")
	c2, _ := s.Get(ctx, 456, "click")
	require.Equal(t, int64(3), c1.Count)
	require.Equal(t, int64(2), h1.Count)
	require.Equal(t, int64(1), c2.Count)
}

func TestScenario3_TwoFlushesAccumulate(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	a.OnNext(ctx, mustEvent(t, 123, "click"))
	require.NoError(t, a.Flush(ctx))
	a.OnNext(ctx, mustEvent(t, 123, "click"))
	require.NoError(t, a.Flush(ctx))

	got, _ := s.Get(ctx, 123, "click")
	require.Equal(t, int64(2), got.Count)
}

func TestFlush_StoreFailure_RetainsKeysForNextTick(t *testing.T) {
	s := newFakeStore()
	s.failNext = true
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	a.OnNext(ctx, mustEvent(t, 1, "click"))
	err := a.Flush(ctx)
	require.Error(t, err)
	require.False(t, a.Cache().IsEmpty(), "failed flush must not drain the cache")

	// retry on next tick succeeds
	require.NoError(t, a.Flush(ctx))
	require.True(t, a.Cache().IsEmpty())
}

func TestFlush_IncrementBetweenFlushes_IsNotLost(t *testing.T) {
	// This runs RemoveDrained's subtract-on-remove through the aggregator's
	// own Flush, not just the cache directly. An increment landing between
	// snapshot and drain cannot be injected from outside Flush (the cache
	// tests cover that race), so this asserts the end-to-end invariant
	// across two sequential flushes instead.
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	a.OnNext(ctx, mustEvent(t, 1, "click"))
	a.OnNext(ctx, mustEvent(t, 1, "click"))

	require.NoError(t, a.Flush(ctx))
	a.OnNext(ctx, mustEvent(t, 1, "click"))
	require.NoError(t, a.Flush(ctx))

	got, _ := s.Get(ctx, 1, "click")
	require.Equal(t, int64(3), got.Count)
}

func TestOnCompleted_RunsFinalFlushAndStopsTicker(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Run(ctx)
	a.OnNext(ctx, mustEvent(t, 1, "click"))
	a.OnCompleted()

	got, _ := s.Get(ctx, 1, "click")
	require.Equal(t, int64(1), got.Count)
}

func TestWatermark_AdvancesOnEveryCompletedFlush(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	require.Equal(t, uint64(0), a.Watermark())

	a.OnNext(ctx, mustEvent(t, 1, "click"))
	require.NoError(t, a.Flush(ctx))
	require.Equal(t, uint64(1), a.Watermark())

	// Empty-cache flushes still advance the watermark: nothing was pending
	// to lose.
	require.NoError(t, a.Flush(ctx))
	require.Equal(t, uint64(2), a.Watermark())
}

func TestWatermark_DoesNotAdvanceOnFailedFlush(t *testing.T) {
	s := newFakeStore()
	s.failNext = true
	a := New(cache.New(4), s, time.Hour, discardLogger())
	ctx := context.Background()

	a.OnNext(ctx, mustEvent(t, 1, "click"))
	require.Error(t, a.Flush(ctx))
	require.Equal(t, uint64(0), a.Watermark())
}

func TestOnNext_NilEvent_DoesNotPanic(t *testing.T) {
	s := newFakeStore()
	a := New(cache.New(4), s, time.Hour, discardLogger())
	require.NotPanics(t, func() {
		a.OnNext(context.Background(), nil)
	})
}

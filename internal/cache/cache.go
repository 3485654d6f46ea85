// Package cache implements the in-memory aggregation cache: a concurrent
// mapping from (user_id, event_type) to a running counter.
package cache

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/flowmetrics/activity-aggregator/internal/domain"
)

const defaultShardCount = 32

// Cache is a shard-striped concurrent counter map. The standard library has
// no concurrent map with atomic per-key compute, so increments are spread
// across independent mutex-guarded shards instead of one coarse lock.
type Cache struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu     sync.Mutex
	counts map[domain.StatsKey]int64
}

// New constructs an empty cache. shardCount is rounded up to the next power
// of two and defaults to 32 when <= 0.
func New(shardCount int) *Cache {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := nextPowerOfTwo(shardCount)
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{counts: make(map[domain.StatsKey]int64)}
	}
	return &Cache{shards: shards, mask: uint32(n - 1)}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Cache) shardFor(key domain.StatsKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(key.UserID, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.EventType))
	return c.shards[h.Sum32()&c.mask]
}

// Increment adds 1 to the counter for (userID, eventType), creating it at 1
// if absent, and returns the count after the increment. Linearizable per key.
func (c *Cache) Increment(userID int64, eventType string) int64 {
	key := domain.StatsKey{UserID: userID, EventType: eventType}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key]
}

// Snapshot returns a point-in-time copy of every non-zero counter. Later
// mutations to the cache never affect the returned slice.
func (c *Cache) Snapshot() []domain.UserEventStats {
	var out []domain.UserEventStats
	for _, s := range c.shards {
		s.mu.Lock()
		for k, v := range s.counts {
			if v == 0 {
				continue
			}
			out = append(out, domain.UserEventStats{UserID: k.UserID, EventType: k.EventType, Count: v})
		}
		s.mu.Unlock()
	}
	return out
}

// RemoveDrained subtracts each snapshot entry's count from the live counter
// and removes the key once the result is zero or less. Any increment that
// landed between the snapshot and this call survives in the cache instead of
// being silently dropped.
func (c *Cache) RemoveDrained(snapshot []domain.UserEventStats) {
	for _, entry := range snapshot {
		key := entry.Key()
		s := c.shardFor(key)
		s.mu.Lock()
		s.counts[key] -= entry.Count
		if s.counts[key] <= 0 {
			delete(s.counts, key)
		}
		s.mu.Unlock()
	}
}

// IsEmpty reports whether every shard currently holds zero entries.
func (c *Cache) IsEmpty() bool {
	return c.Size() == 0
}

// Size returns the number of distinct (user_id, event_type) keys held.
func (c *Cache) Size() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.counts)
		s.mu.Unlock()
	}
	return n
}

// Count returns the live in-memory count for a single key, for observability
// callers that want to merge it with the durable store count.
func (c *Cache) Count(userID int64, eventType string) int64 {
	key := domain.StatsKey{UserID: userID, EventType: eventType}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// CountUser returns the live in-memory counts for every event type recorded
// against userID.
func (c *Cache) CountUser(userID int64) []domain.UserEventStats {
	var out []domain.UserEventStats
	for _, s := range c.shards {
		s.mu.Lock()
		for k, v := range s.counts {
			if k.UserID == userID && v != 0 {
				out = append(out, domain.UserEventStats{UserID: k.UserID, EventType: k.EventType, Count: v})
			}
		}
		s.mu.Unlock()
	}
	return out
}

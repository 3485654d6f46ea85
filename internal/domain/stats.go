package domain

// UserEventStats is a running counter for one (user_id, event_type) pair.
// Identity and equality are defined by the key alone, never by Count.
type UserEventStats struct {
	UserID    int64
	EventType string
	Count     int64
}

// Key returns the identity of this stats row, independent of Count.
func (s UserEventStats) Key() StatsKey {
	return StatsKey{UserID: s.UserID, EventType: s.EventType}
}

// Equal compares identity only, per the (user_id, event_type) contract.
func (s UserEventStats) Equal(other UserEventStats) bool {
	return s.Key() == other.Key()
}

// WithCount returns a copy with Count replaced; it fails for c < 0.
func (s UserEventStats) WithCount(c int64) (UserEventStats, error) {
	if c < 0 {
		return UserEventStats{}, ErrNegativeCount
	}
	s.Count = c
	return s, nil
}

// StatsKey is the hashable identity of a UserEventStats row.
type StatsKey struct {
	UserID    int64
	EventType string
}

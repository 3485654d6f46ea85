package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUserEvent_RejectsNonPositiveUserID(t *testing.T) {
	_, err := NewUserEvent(0, "click", time.Now(), nil)
	require.ErrorIs(t, err, ErrInvalidUserID)

	_, err = NewUserEvent(-5, "click", time.Now(), nil)
	require.ErrorIs(t, err, ErrInvalidUserID)
}

func TestNewUserEvent_RejectsWhitespaceOnlyEventType(t *testing.T) {
	_, err := NewUserEvent(1, "   ", time.Now(), nil)
	require.ErrorIs(t, err, ErrEmptyEventType)
}

func TestNewUserEvent_TrimsEventType(t *testing.T) {
	e, err := NewUserEvent(1, "  click  ", time.Now(), nil)
	require.NoError(t, err)
	require.Equal(t, "click", e.EventType)
}

func TestNewUserEvent_ExtractsButtonID(t *testing.T) {
	e, err := NewUserEvent(1, "click", time.Now(), map[string]any{"button_id": "submit"})
	require.NoError(t, err)
	require.Equal(t, "submit", e.ButtonID)
}

func TestUserEventStats_EqualIgnoresCount(t *testing.T) {
	a := UserEventStats{UserID: 1, EventType: "click", Count: 3}
	b := UserEventStats{UserID: 1, EventType: "click", Count: 99}
	require.True(t, a.Equal(b))

	c := UserEventStats{UserID: 2, EventType: "click", Count: 3}
	require.False(t, a.Equal(c))
}

func TestUserEventStats_KeyIsConsistentWithEqual(t *testing.T) {
	a := UserEventStats{UserID: 1, EventType: "click", Count: 3}
	b := UserEventStats{UserID: 1, EventType: "click", Count: 99}
	require.Equal(t, a.Key(), b.Key())

	set := map[StatsKey]bool{a.Key(): true}
	require.True(t, set[b.Key()], "equal keys must hash identically in a Go map")
}

func TestUserEventStats_WithCount_RejectsNegative(t *testing.T) {
	s := UserEventStats{UserID: 1, EventType: "click"}
	_, err := s.WithCount(-1)
	require.ErrorIs(t, err, ErrNegativeCount)

	got, err := s.WithCount(5)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Count)
}

package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidUserID  = errors.New("user_id must be >= 1")
	ErrEmptyEventType = errors.New("event_type must be non-empty")
	ErrNegativeCount  = errors.New("count must be >= 0")
)

// UserEvent is the validated, immutable domain representation of one
// inbound activity record. It is discarded once handed to the fan-out.
type UserEvent struct {
	UserID    int64
	EventType string
	Timestamp time.Time
	ButtonID  string
	Data      map[string]any
}

// NewUserEvent validates its inputs and returns an immutable UserEvent.
// timestamp is accepted as given; it is not itself validated (per spec).
func NewUserEvent(userID int64, eventType string, timestamp time.Time, data map[string]any) (UserEvent, error) {
	if userID < 1 {
		return UserEvent{}, ErrInvalidUserID
	}
	trimmed := strings.TrimSpace(eventType)
	if trimmed == "" {
		return UserEvent{}, ErrEmptyEventType
	}

	var buttonID string
	if data != nil {
		if v, ok := data["button_id"]; ok {
			if s, ok := v.(string); ok {
				buttonID = s
			}
		}
	}

	return UserEvent{
		UserID:    userID,
		EventType: trimmed,
		Timestamp: timestamp,
		ButtonID:  buttonID,
		Data:      data,
	}, nil
}

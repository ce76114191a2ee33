package enums

import "fmt"

// EventType maps to the event_type column on events.
type EventType string

const (
	EventTypeError        EventType = "error"
	EventTypeLog          EventType = "log"
	EventTypeFeatureUsage EventType = "usage"
	EventTypeNotFound     EventType = "404"
	EventTypeSession      EventType = "session"
)

var validEventTypes = []EventType{
	EventTypeError,
	EventTypeLog,
	EventTypeFeatureUsage,
	EventTypeNotFound,
	EventTypeSession,
}

// IsValid checks whether the given type matches the canonical enum.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw strings into EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

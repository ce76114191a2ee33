package payloads

import (
	"time"

	"github.com/google/uuid"
)

// NotificationQueuedEvent tells the notification worker to evaluate and
// deliver alerts for one persisted event.
type NotificationQueuedEvent struct {
	EventID          uuid.UUID `json:"eventId"`
	StackID          uuid.UUID `json:"stackId"`
	ProjectID        uuid.UUID `json:"projectId"`
	OrganizationID   uuid.UUID `json:"organizationId"`
	IsNew            bool      `json:"isNew"`
	IsRegression     bool      `json:"isRegression"`
	TotalOccurrences int64     `json:"totalOccurrences"`
}

// StackChangedEvent is broadcast after ingestion mutates a stack so read
// models and websocket fan-out can refresh.
type StackChangedEvent struct {
	StackID        uuid.UUID `json:"stackId"`
	ProjectID      uuid.UUID `json:"projectId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	ChangedAt      time.Time `json:"changedAt"`
}

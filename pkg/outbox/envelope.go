package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. Worker-produced events carry
// the worker name instead of a user.
type ActorRef struct {
	UserID    *uuid.UUID `json:"userId,omitempty"`
	ProjectID *uuid.UUID `json:"projectId,omitempty"`
	Worker    string     `json:"worker,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

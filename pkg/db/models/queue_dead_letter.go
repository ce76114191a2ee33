package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueDeadLetter captures queue items that exhausted their redelivery
// budget. Operators drain these manually.
type QueueDeadLetter struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	QueueName string          `gorm:"column:queue_name;type:text;not null"`
	MessageID string          `gorm:"column:message_id;type:text;not null"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Attempts  int             `gorm:"column:attempts;not null;default:0"`
	LastError *string         `gorm:"column:last_error"`
	FailedAt  time.Time       `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/faultline-io/faultline-backend/pkg/enums"
	"github.com/faultline-io/faultline-backend/pkg/types"
)

// Event is one persisted occurrence. Rows are immutable after insert apart
// from the soft-delete flag.
type Event struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID uuid.UUID           `gorm:"column:organization_id;type:uuid;not null"`
	ProjectID      uuid.UUID           `gorm:"column:project_id;type:uuid;not null"`
	StackID        uuid.UUID           `gorm:"column:stack_id;type:uuid;not null"`
	Type           enums.EventType     `gorm:"column:type;type:text;not null"`
	Source         string              `gorm:"column:source;type:text"`
	Date           time.Time           `gorm:"column:date;type:timestamptz;not null"`
	Message        *string             `gorm:"column:message;type:text"`
	Value          decimal.NullDecimal `gorm:"column:value;type:numeric"`
	Geo            *string             `gorm:"column:geo;type:text"`
	ReferenceID    *string             `gorm:"column:reference_id;type:text"`
	Tags           pq.StringArray      `gorm:"column:tags;type:text[]"`
	Request        types.RequestInfo   `gorm:"column:request;type:jsonb"`
	Data           types.DataMap       `gorm:"column:data;type:jsonb"`
	IsDeleted      bool                `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TagCritical marks an event the project owner considers critical.
const TagCritical = "Critical"

// IsError reports whether this is an error-class event.
func (e *Event) IsError() bool {
	return e.Type == enums.EventTypeError
}

// IsCritical reports whether the event carries the critical tag.
func (e *Event) IsCritical() bool {
	for _, tag := range e.Tags {
		if tag == TagCritical {
			return true
		}
	}
	return false
}

// UserAgent returns the client user agent when request metadata is present.
func (e *Event) UserAgent() string {
	return e.Request.UserAgent
}

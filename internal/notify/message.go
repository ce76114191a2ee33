package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventNotice is the channel-neutral notification content built from one
// work item.
type EventNotice struct {
	EventID      uuid.UUID
	StackID      uuid.UUID
	ProjectID    uuid.UUID
	ProjectName  string
	EventType    string
	Title        string
	Message      string
	OccurredAt   time.Time
	IsNew        bool
	IsRegression bool
	IsCritical   bool
	Occurrences  int64
}

// Subject renders the email subject line for this notice.
func (n EventNotice) Subject() string {
	prefix := "[" + n.ProjectName + "] "
	switch {
	case n.IsRegression:
		return prefix + "Regression: " + n.Title
	case n.IsCritical:
		return prefix + "Critical: " + n.Title
	case n.IsNew:
		return prefix + "New " + n.EventType + ": " + n.Title
	default:
		return prefix + n.Title
	}
}

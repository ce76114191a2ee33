package enums

import "fmt"

// NotificationRecipientKind distinguishes configured notification recipients.
type NotificationRecipientKind string

const (
	// RecipientKindChat is the fixed chat-channel integration key in a
	// project's notification settings map.
	RecipientKindChat NotificationRecipientKind = "chat"
	// RecipientKindUser is any other key, interpreted as a user id.
	RecipientKindUser NotificationRecipientKind = "user"
)

// KindForRecipientKey classifies a notification settings map key.
func KindForRecipientKey(key string) NotificationRecipientKind {
	if key == string(RecipientKindChat) {
		return RecipientKindChat
	}
	return RecipientKindUser
}

// NotificationOutcome labels how the dispatcher resolved a work item.
type NotificationOutcome string

const (
	OutcomeSent               NotificationOutcome = "sent"
	OutcomeStackThrottled     NotificationOutcome = "stack_throttled"
	OutcomeProjectThrottled   NotificationOutcome = "project_throttled"
	OutcomeBotSuppressed      NotificationOutcome = "bot_suppressed"
	OutcomeNoEligibleChannels NotificationOutcome = "no_eligible_channels"
	OutcomeEventMissing       NotificationOutcome = "event_missing"
)

var validNotificationOutcomes = []NotificationOutcome{
	OutcomeSent,
	OutcomeStackThrottled,
	OutcomeProjectThrottled,
	OutcomeBotSuppressed,
	OutcomeNoEligibleChannels,
	OutcomeEventMissing,
}

// IsValid checks whether the outcome matches the canonical set.
func (o NotificationOutcome) IsValid() bool {
	for _, candidate := range validNotificationOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseNotificationOutcome converts raw strings into NotificationOutcome.
func ParseNotificationOutcome(value string) (NotificationOutcome, error) {
	for _, candidate := range validNotificationOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification outcome %q", value)
}

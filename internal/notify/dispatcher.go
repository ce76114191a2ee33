package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/faultline-io/faultline-backend/internal/events"
	"github.com/faultline-io/faultline-backend/internal/projects"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/internal/users"
	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/enums"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
	"github.com/faultline-io/faultline-backend/pkg/types"
)

const consumerName = "notify-worker"

type eventLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

type projectLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type stackThrottler interface {
	SuppressByStack(ctx context.Context, stackID uuid.UUID, totalOccurrences int64, isRegression bool) (bool, error)
	MarkNotified(ctx context.Context, stackID uuid.UUID) error
	SuppressByProject(ctx context.Context, projectID uuid.UUID, isRegression bool) (bool, error)
}

// Dispatcher evaluates one queued notification work item and fans out to the
// project's configured recipients.
type Dispatcher struct {
	events            eventLoader
	projects          projectLoader
	users             userLoader
	idempotency       idempotencyChecker
	throttler         stackThrottler
	mailer            Mailer
	chat              ChatNotifier
	metrics           *metrics.NotifyMetrics
	internalProjectID string
	allowedOutbound   []string
	isProd            bool
	logg              *logger.Logger
}

// DispatcherParams wires the dispatcher.
type DispatcherParams struct {
	Events            eventLoader
	Projects          projectLoader
	Users             userLoader
	Idempotency       idempotencyChecker
	Throttler         stackThrottler
	Mailer            Mailer
	Chat              ChatNotifier
	Metrics           *metrics.NotifyMetrics
	InternalProjectID string
	AllowedOutbound   []string
	IsProd            bool
	Logger            *logger.Logger
}

// NewDispatcher validates the wiring and builds a dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Events == nil {
		return nil, errors.New("event loader is required")
	}
	if params.Projects == nil {
		return nil, errors.New("project loader is required")
	}
	if params.Users == nil {
		return nil, errors.New("user loader is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency checker is required")
	}
	if params.Throttler == nil {
		return nil, errors.New("throttler is required")
	}
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if params.Chat == nil {
		return nil, errors.New("chat notifier is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{
		events:            params.Events,
		projects:          params.Projects,
		users:             params.Users,
		idempotency:       params.Idempotency,
		throttler:         params.Throttler,
		mailer:            params.Mailer,
		chat:              params.Chat,
		metrics:           params.Metrics,
		internalProjectID: params.InternalProjectID,
		allowedOutbound:   params.AllowedOutbound,
		isProd:            params.IsProd,
		logg:              params.Logger,
	}, nil
}

// Handle processes one queued notification message.
func (d *Dispatcher) Handle(ctx context.Context, msg queue.Message) queue.Result {
	if eventType := msg.Attributes["event_type"]; eventType != "" && eventType != string(enums.EventNotificationQueued) {
		return queue.Success()
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		d.logg.Error(ctx, "undecodable notification envelope", err)
		return queue.DeadLetter(err)
	}
	envelopeID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		d.logg.Error(ctx, "notification envelope missing event id", err)
		return queue.DeadLetter(err)
	}

	already, err := d.idempotency.CheckAndMarkProcessed(ctx, consumerName, envelopeID)
	if err != nil {
		return queue.Abandon(err)
	}
	if already {
		d.logg.Info(ctx, "notification already processed")
		return queue.Success()
	}

	var work payloads.NotificationQueuedEvent
	if err := json.Unmarshal(envelope.Data, &work); err != nil {
		_ = d.idempotency.Delete(ctx, consumerName, envelopeID)
		d.logg.Error(ctx, "undecodable notification work item", err)
		return queue.DeadLetter(err)
	}

	result := d.process(ctx, work)
	if result.Status != queue.StatusSuccess {
		// release the idempotency mark so redelivery reprocesses
		_ = d.idempotency.Delete(ctx, consumerName, envelopeID)
	}
	return result
}

func (d *Dispatcher) process(ctx context.Context, work payloads.NotificationQueuedEvent) queue.Result {
	ctx = d.logg.WithEventID(ctx, work.EventID.String())
	ctx = d.logg.WithProjectID(ctx, work.ProjectID.String())
	internal := d.internalProjectID != "" && work.ProjectID.String() == d.internalProjectID

	event, err := d.events.FindByID(ctx, work.EventID)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			d.outcome(ctx, internal, enums.OutcomeEventMissing, "notification event missing")
			return queue.Success()
		}
		return failure(ctx, err)
	}
	if event.IsDeleted {
		d.outcome(ctx, internal, enums.OutcomeEventMissing, "notification event deleted")
		return queue.Success()
	}

	project, err := d.projects.FindByID(ctx, event.ProjectID)
	if err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			d.outcome(ctx, internal, enums.OutcomeEventMissing, "notification project missing")
			return queue.Success()
		}
		return failure(ctx, err)
	}

	suppressed, err := d.throttler.SuppressByStack(ctx, work.StackID, work.TotalOccurrences, work.IsRegression)
	if err != nil {
		return failure(ctx, err)
	}
	if suppressed {
		d.outcome(ctx, internal, enums.OutcomeStackThrottled, "notification suppressed by stack cooldown")
		return queue.Success()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return queue.Cancelled(ctxErr)
	}

	capped, err := d.throttler.SuppressByProject(ctx, project.ID, work.IsRegression)
	if err != nil {
		return failure(ctx, err)
	}
	if capped {
		d.outcome(ctx, internal, enums.OutcomeProjectThrottled, "notification suppressed by project cap")
		return queue.Success()
	}

	notice := buildNotice(event, project, work)
	isBot := IsBotUserAgent(event.UserAgent(), project.Config.UserAgentBotPatterns)

	sent := 0
	eligible := 0
	var recipientErrs error

	for _, key := range sortedRecipientKeys(project.NotificationSettings) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue.Cancelled(ctxErr)
		}
		setting := project.NotificationSettings[key]
		if !shouldReport(setting, event, work) {
			continue
		}
		if isBot {
			d.metric(enums.OutcomeBotSuppressed)
			continue
		}
		eligible++

		var sendErr error
		switch enums.KindForRecipientKey(key) {
		case enums.RecipientKindChat:
			sendErr = d.sendChat(ctx, notice)
		default:
			sendErr = d.sendEmail(ctx, key, event.OrganizationID, notice)
		}
		if sendErr != nil {
			recipientErrs = multierr.Append(recipientErrs, fmt.Errorf("recipient %s: %w", key, sendErr))
			continue
		}
		sent++
	}

	if recipientErrs != nil {
		d.logg.Error(ctx, "some notification recipients failed", recipientErrs)
	}

	if sent > 0 {
		if err := d.throttler.MarkNotified(ctx, work.StackID); err != nil {
			d.logg.Warn(ctx, "refreshing stack cooldown failed")
		}
		d.outcome(ctx, internal, enums.OutcomeSent, "notification dispatched")
		return queue.Success()
	}

	if eligible > 0 {
		// deliveries failed but recipient errors never fail the job
		d.outcome(ctx, internal, enums.OutcomeNoEligibleChannels, "no notification delivered")
		return queue.Success()
	}
	d.outcome(ctx, internal, enums.OutcomeNoEligibleChannels, "no eligible notification recipients")
	return queue.Success()
}

func (d *Dispatcher) sendChat(ctx context.Context, notice EventNotice) error {
	if err := d.chat.PostEventNotice(ctx, notice); err != nil {
		d.metrics.IncDelivery("chat", "failed")
		return err
	}
	d.metrics.IncDelivery("chat", "sent")
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, recipientKey string, organizationID uuid.UUID, notice EventNotice) error {
	userID, err := uuid.Parse(recipientKey)
	if err != nil {
		return fmt.Errorf("recipient key is not a user id: %w", err)
	}
	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			d.metrics.IncDelivery("email", "skipped")
			return nil
		}
		d.metrics.IncDelivery("email", "failed")
		return err
	}

	switch {
	case user.EmailAddress == "":
		d.metrics.IncDelivery("email", "skipped")
		return nil
	case !user.IsEmailAddressVerified:
		d.metrics.IncDelivery("email", "skipped")
		return nil
	case !user.EmailNotificationsEnabled:
		d.metrics.IncDelivery("email", "skipped")
		return nil
	case !user.IsMemberOf(organizationID):
		d.metrics.IncDelivery("email", "skipped")
		return nil
	}

	if !d.isProd && !d.isAllowedOutbound(user.EmailAddress) {
		d.metrics.IncDelivery("email", "skipped")
		return nil
	}

	if err := d.mailer.SendEventNotice(ctx, user.EmailAddress, notice); err != nil {
		d.metrics.IncDelivery("email", "failed")
		return err
	}
	d.metrics.IncDelivery("email", "sent")
	return nil
}

// isAllowedOutbound guards non-production environments against mailing real
// customers.
func (d *Dispatcher) isAllowedOutbound(address string) bool {
	for _, fragment := range d.allowedOutbound {
		if fragment != "" && containsFold(address, fragment) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) outcome(ctx context.Context, internal bool, outcome enums.NotificationOutcome, msg string) {
	d.metric(outcome)
	if internal {
		return
	}
	d.logg.Info(d.logg.WithFields(ctx, map[string]any{"outcome": string(outcome)}), msg)
}

func (d *Dispatcher) metric(outcome enums.NotificationOutcome) {
	d.metrics.IncOutcome(string(outcome))
}

// shouldReport ANDs the recipient's configured interests with what this work
// item actually is.
func shouldReport(setting types.NotificationSetting, event *models.Event, work payloads.NotificationQueuedEvent) bool {
	isError := event.IsError()
	isCritical := event.IsCritical()

	switch {
	case setting.ReportEventRegressions && work.IsRegression:
		return true
	case setting.ReportNewErrors && work.IsNew && isError:
		return true
	case setting.ReportCriticalErrors && isCritical && isError:
		return true
	case setting.ReportNewEvents && work.IsNew && !isError:
		return true
	case setting.ReportCriticalEvents && isCritical && !isError:
		return true
	default:
		return false
	}
}

func buildNotice(event *models.Event, project *models.Project, work payloads.NotificationQueuedEvent) EventNotice {
	notice := EventNotice{
		EventID:      event.ID,
		StackID:      work.StackID,
		ProjectID:    project.ID,
		ProjectName:  project.Name,
		EventType:    string(event.Type),
		Title:        event.Source,
		OccurredAt:   event.Date,
		IsNew:        work.IsNew,
		IsRegression: work.IsRegression,
		IsCritical:   event.IsCritical(),
		Occurrences:  work.TotalOccurrences,
	}
	if event.Message != nil {
		notice.Title = *event.Message
		notice.Message = *event.Message
	}
	if notice.Title == "" {
		notice.Title = string(event.Type)
	}
	return notice
}

func sortedRecipientKeys(settings types.NotificationSettingsMap) []string {
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// failure classifies an error as cancellation or a redeliverable failure.
func failure(ctx context.Context, err error) queue.Result {
	if ctx.Err() != nil {
		return queue.Cancelled(ctx.Err())
	}
	return queue.Abandon(err)
}

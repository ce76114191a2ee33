package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/faultline-io/faultline-backend/pkg/db/models"
	apperrors "github.com/faultline-io/faultline-backend/pkg/errors"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
)

// Message is the transport-neutral view handlers receive.
type Message struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	DeliveryAttempt int
}

// Handler processes one message and reports how to settle it.
type Handler func(ctx context.Context, msg Message) Result

// Receiver matches the pubsub Subscriber surface the runner needs.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// DeadLetterStore records messages that exhausted their redelivery budget.
type DeadLetterStore interface {
	Record(ctx context.Context, entry models.QueueDeadLetter) error
}

// Runner pulls messages from one subscription and settles them according to
// the handler result. Delivery is at least once; handlers must tolerate
// duplicates.
type Runner struct {
	name          string
	subscription  Receiver
	handler       Handler
	deadLetters   DeadLetterStore
	maxDeliveries int
	metrics       *metrics.PipelineMetrics
	logg          *logger.Logger
}

// RunnerParams wires a runner.
type RunnerParams struct {
	Name          string
	Subscription  Receiver
	Handler       Handler
	DeadLetters   DeadLetterStore
	MaxDeliveries int
	Metrics       *metrics.PipelineMetrics
	Logger        *logger.Logger
}

// NewRunner validates the wiring and builds a runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Name == "" {
		return nil, errors.New("runner name is required")
	}
	if params.Subscription == nil {
		return nil, errors.New("subscription is required")
	}
	if params.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if params.DeadLetters == nil {
		return nil, errors.New("dead letter store is required")
	}
	if params.MaxDeliveries <= 0 {
		return nil, errors.New("max deliveries must be positive")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Runner{
		name:          params.Name,
		subscription:  params.Subscription,
		handler:       params.Handler,
		deadLetters:   params.DeadLetters,
		maxDeliveries: params.MaxDeliveries,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// Run processes messages until the context is canceled or the subscription
// errors.
func (r *Runner) Run(ctx context.Context) error {
	return r.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if r.settle(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// settle reports whether the message should be acked.
func (r *Runner) settle(ctx context.Context, msg *pubsub.Message) bool {
	message := Message{
		ID:              msg.ID,
		Data:            msg.Data,
		Attributes:      msg.Attributes,
		DeliveryAttempt: deliveryAttempt(msg),
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"queue":            r.name,
		"message_id":       message.ID,
		"delivery_attempt": message.DeliveryAttempt,
	})

	result := r.invoke(logCtx, message)

	switch result.Status {
	case StatusSuccess:
		return true
	case StatusCancelled:
		r.logg.Info(logCtx, "message processing cancelled")
		return false
	case StatusDeadLetter:
		return r.park(logCtx, message, result.Err)
	case StatusAbandon:
		if message.DeliveryAttempt > r.maxDeliveries {
			return r.park(logCtx, message, result.Err)
		}
		if result.Err != nil {
			failCtx := logCtx
			if fields := apperrors.DumpFields(result.Err); fields != nil {
				failCtx = r.logg.WithFields(logCtx, fields)
			}
			r.logg.Error(failCtx, "message processing failed, redelivering", result.Err)
		}
		return false
	default:
		r.logg.Error(logCtx, "unknown handler status, redelivering", fmt.Errorf("status %d", result.Status))
		return false
	}
}

// invoke runs the handler with panic recovery; a panicking handler abandons
// the message instead of killing the worker.
func (r *Runner) invoke(ctx context.Context, message Message) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("handler panic: %v", recovered)
			r.logg.Error(ctx, "recovered handler panic", err)
			result = Abandon(err)
		}
	}()
	return r.handler(ctx, message)
}

// park writes the message to the dead-letter table. Parking failures keep the
// message on the queue.
func (r *Runner) park(ctx context.Context, message Message, cause error) bool {
	entry := models.QueueDeadLetter{
		QueueName: r.name,
		MessageID: message.ID,
		Payload:   deadLetterPayload(message),
		Attempts:  message.DeliveryAttempt,
	}
	if cause != nil {
		msg := cause.Error()
		entry.LastError = &msg
	}
	if err := r.deadLetters.Record(ctx, entry); err != nil {
		r.logg.Error(ctx, "recording dead letter failed, redelivering", err)
		return false
	}
	r.metrics.IncDeadLettered(r.name)
	r.logg.Warn(ctx, "message parked in dead letter table")
	return true
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		return *msg.DeliveryAttempt
	}
	return 1
}

func deadLetterPayload(message Message) json.RawMessage {
	if json.Valid(message.Data) && len(message.Data) > 0 {
		return json.RawMessage(message.Data)
	}
	wrapped, err := json.Marshal(map[string]any{
		"raw":        string(message.Data),
		"attributes": message.Attributes,
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

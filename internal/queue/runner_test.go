package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

type recordingDeadLetters struct {
	mu      sync.Mutex
	entries []models.QueueDeadLetter
	err     error
}

func (r *recordingDeadLetters) Record(ctx context.Context, entry models.QueueDeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

type stubReceiver struct{}

func (stubReceiver) Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error {
	return nil
}

func newTestRunner(t *testing.T, handler Handler, store DeadLetterStore) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerParams{
		Name:          "ingest",
		Subscription:  stubReceiver{},
		Handler:       handler,
		DeadLetters:   store,
		MaxDeliveries: 5,
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return runner
}

func attemptMessage(attempt int) *pubsub.Message {
	return &pubsub.Message{
		ID:              "msg-1",
		Data:            []byte(`{"eventId":"abc"}`),
		Attributes:      map[string]string{"projectId": "proj-1"},
		DeliveryAttempt: &attempt,
	}
}

func TestRunnerAcksOnSuccess(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	var seen Message
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		seen = msg
		return Success()
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(2))
	require.True(t, ack)
	assert.Equal(t, "msg-1", seen.ID)
	assert.Equal(t, 2, seen.DeliveryAttempt)
	assert.Equal(t, "proj-1", seen.Attributes["projectId"])
	assert.Empty(t, store.entries)
}

func TestRunnerNacksOnAbandon(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return Abandon(errors.New("transient"))
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(1))
	require.False(t, ack)
	assert.Empty(t, store.entries)
}

func TestRunnerNacksOnCancelled(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return Cancelled(context.Canceled)
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(3))
	require.False(t, ack)
	assert.Empty(t, store.entries)
}

func TestRunnerParksAfterMaxDeliveries(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return Abandon(errors.New("still broken"))
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(6))
	require.True(t, ack, "exhausted messages are acked after parking")
	require.Len(t, store.entries, 1)

	entry := store.entries[0]
	assert.Equal(t, "ingest", entry.QueueName)
	assert.Equal(t, "msg-1", entry.MessageID)
	assert.Equal(t, 6, entry.Attempts)
	require.NotNil(t, entry.LastError)
	assert.Equal(t, "still broken", *entry.LastError)
	assert.JSONEq(t, `{"eventId":"abc"}`, string(entry.Payload))
}

func TestRunnerParksImmediatelyOnDeadLetterResult(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return DeadLetter(errors.New("poison payload"))
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(1))
	require.True(t, ack)
	require.Len(t, store.entries, 1)
	assert.Equal(t, 1, store.entries[0].Attempts)
}

func TestRunnerKeepsMessageWhenParkingFails(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{err: errors.New("db down")}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return Abandon(errors.New("broken"))
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(9))
	require.False(t, ack, "parking failure must leave the message on the queue")
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		panic("unexpected state")
	}, store)

	ack := runner.settle(context.Background(), attemptMessage(1))
	require.False(t, ack, "panicking handlers abandon the message")
	assert.Empty(t, store.entries)
}

func TestRunnerDefaultsMissingDeliveryAttempt(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	var seen Message
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		seen = msg
		return Success()
	}, store)

	msg := &pubsub.Message{ID: "msg-2", Data: []byte(`{}`), PublishTime: time.Now()}
	ack := runner.settle(context.Background(), msg)
	require.True(t, ack)
	assert.Equal(t, 1, seen.DeliveryAttempt)
}

func TestRunnerWrapsNonJSONPayload(t *testing.T) {
	t.Parallel()

	store := &recordingDeadLetters{}
	runner := newTestRunner(t, func(ctx context.Context, msg Message) Result {
		return DeadLetter(errors.New("unreadable"))
	}, store)

	attempt := 1
	msg := &pubsub.Message{
		ID:              "msg-3",
		Data:            []byte("not json"),
		Attributes:      map[string]string{"projectId": "proj-1"},
		DeliveryAttempt: &attempt,
	}
	ack := runner.settle(context.Background(), msg)
	require.True(t, ack)
	require.Len(t, store.entries, 1)
	assert.JSONEq(t, `{"raw":"not json","attributes":{"projectId":"proj-1"}}`, string(store.entries[0].Payload))
}

func TestNewRunnerValidation(t *testing.T) {
	t.Parallel()

	base := RunnerParams{
		Name:          "ingest",
		Subscription:  stubReceiver{},
		Handler:       func(ctx context.Context, msg Message) Result { return Success() },
		DeadLetters:   &recordingDeadLetters{},
		MaxDeliveries: 5,
		Logger:        logger.New(logger.Options{ServiceName: "test"}),
	}

	_, err := NewRunner(base)
	require.NoError(t, err)

	missingHandler := base
	missingHandler.Handler = nil
	_, err = NewRunner(missingHandler)
	require.Error(t, err)

	badMax := base
	badMax.MaxDeliveries = 0
	_, err = NewRunner(badMax)
	require.Error(t, err)
}

package stacks

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
)

func TestDebouncerRetriggerAroundWindowDoesNotLoseOrDuplicate(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	delay := 10 * time.Millisecond
	debouncer := NewDebouncer(broadcaster, delay, resolverTestLogger())

	// Trigger repeatedly right at the window boundary. Some triggers land
	// while the expired timer's callback is racing for the lock, which is
	// the case where Reset returns false and a fresh timer must be armed.
	stackID := uuid.New()
	triggers := 20
	for i := 0; i < triggers; i++ {
		debouncer.Trigger(payloads.StackChangedEvent{StackID: stackID, ProjectID: uuid.New()})
		time.Sleep(delay)
	}

	require.Eventually(t, func() bool { return broadcaster.count() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(5 * delay)

	settled := broadcaster.count()
	assert.LessOrEqual(t, settled, triggers)

	// Nothing may be left pending once the windows have drained.
	debouncer.Flush()
	assert.Equal(t, settled, broadcaster.count())
}

func TestDebouncerStaleTimerDoesNotStealReplacementChange(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	debouncer := NewDebouncer(broadcaster, 20*time.Millisecond, resolverTestLogger())

	stackID := uuid.New()
	first := payloads.StackChangedEvent{StackID: stackID, ChangedAt: time.Now()}
	replacement := payloads.StackChangedEvent{StackID: stackID, ChangedAt: time.Now().Add(time.Minute)}

	debouncer.Trigger(first)
	debouncer.Trigger(replacement)

	require.Eventually(t, func() bool { return broadcaster.count() == 1 }, time.Second, 5*time.Millisecond)

	broadcaster.mu.Lock()
	got := broadcaster.changes[0]
	broadcaster.mu.Unlock()
	assert.True(t, got.ChangedAt.Equal(replacement.ChangedAt), "last change in the window wins")
}

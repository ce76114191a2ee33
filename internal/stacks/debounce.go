package stacks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
)

// DefaultDebounceDelay batches rapid-fire occurrences of one stack into a
// single broadcast.
const DefaultDebounceDelay = 1500 * time.Millisecond

// Broadcaster delivers a stack-changed notification downstream.
type Broadcaster interface {
	BroadcastStackChanged(ctx context.Context, change payloads.StackChangedEvent) error
}

// Debouncer coalesces stack-changed broadcasts per stack id. The last change
// inside the window wins.
type Debouncer struct {
	mu          sync.Mutex
	timers      map[uuid.UUID]*time.Timer
	pending     map[uuid.UUID]payloads.StackChangedEvent
	delay       time.Duration
	broadcaster Broadcaster
	logg        *logger.Logger
}

// NewDebouncer builds a per-stack debouncer. A non-positive delay falls back
// to the default.
func NewDebouncer(broadcaster Broadcaster, delay time.Duration, logg *logger.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{
		timers:      make(map[uuid.UUID]*time.Timer),
		pending:     make(map[uuid.UUID]payloads.StackChangedEvent),
		delay:       delay,
		broadcaster: broadcaster,
		logg:        logg,
	}
}

// Trigger schedules a broadcast for the stack, restarting the window when one
// is already pending.
func (d *Debouncer) Trigger(change payloads.StackChangedEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stackID := change.StackID
	d.pending[stackID] = change
	if timer, ok := d.timers[stackID]; ok {
		if timer.Reset(d.delay) {
			return
		}
		// The old timer already fired and its callback is waiting on the
		// mutex. Arm a fresh timer; the stale callback sees it is no longer
		// the registered timer and leaves the change for the new window.
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		d.fire(stackID, timer)
	})
	d.timers[stackID] = timer
}

func (d *Debouncer) fire(stackID uuid.UUID, timer *time.Timer) {
	d.mu.Lock()
	if d.timers[stackID] != timer {
		d.mu.Unlock()
		return
	}
	change, ok := d.pending[stackID]
	delete(d.pending, stackID)
	delete(d.timers, stackID)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.broadcast(change)
}

// Flush fires every pending broadcast immediately. Called on shutdown.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	changes := make([]payloads.StackChangedEvent, 0, len(d.pending))
	for stackID, change := range d.pending {
		if timer, ok := d.timers[stackID]; ok {
			timer.Stop()
		}
		changes = append(changes, change)
	}
	d.pending = make(map[uuid.UUID]payloads.StackChangedEvent)
	d.timers = make(map[uuid.UUID]*time.Timer)
	d.mu.Unlock()

	for _, change := range changes {
		d.broadcast(change)
	}
}

func (d *Debouncer) broadcast(change payloads.StackChangedEvent) {
	ctx := d.logg.WithStackID(context.Background(), change.StackID.String())
	if err := d.broadcaster.BroadcastStackChanged(ctx, change); err != nil {
		d.logg.Error(ctx, "stack changed broadcast failed", err)
	}
}

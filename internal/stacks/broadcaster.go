package stacks

import (
	"context"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/enums"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
)

// OutboxBroadcaster writes stack-changed events to the outbox so the
// publisher fans them out to Pub/Sub.
type OutboxBroadcaster struct {
	db     *dbpkg.Client
	outbox *outbox.Service
	worker string
}

// NewOutboxBroadcaster binds the broadcaster to the outbox service.
func NewOutboxBroadcaster(db *dbpkg.Client, svc *outbox.Service, worker string) *OutboxBroadcaster {
	return &OutboxBroadcaster{db: db, outbox: svc, worker: worker}
}

// BroadcastStackChanged emits one stack-changed outbox row. A pending row for
// the same stack is reused rather than duplicated.
func (b *OutboxBroadcaster) BroadcastStackChanged(ctx context.Context, change payloads.StackChangedEvent) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	return b.db.WithTx(ctx, func(tx *gorm.DB) error {
		return b.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStackChanged,
			AggregateType: enums.AggregateStack,
			AggregateID:   change.StackID,
			Actor:         &outbox.ActorRef{Worker: b.worker},
			Data:          change,
			Version:       1,
		})
	})
}

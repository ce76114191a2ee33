package stacks

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	dbpkg "github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/outbox/payloads"
)

const (
	// counter merges run at most this many attempts before the merge is
	// abandoned; the events themselves stay persisted either way
	maxMergeAttempts = 3
	mergeRetryDelay  = 25 * time.Millisecond
)

// Counter applies occurrence batches to stack counters and fans out the
// debounced stack-changed broadcast.
type Counter struct {
	repo      Repository
	resolver  *Resolver
	debouncer *Debouncer
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
}

// NewCounter wires the counter updater.
func NewCounter(repo Repository, resolver *Resolver, debouncer *Debouncer, m *metrics.PipelineMetrics, logg *logger.Logger) *Counter {
	return &Counter{repo: repo, resolver: resolver, debouncer: debouncer, metrics: m, logg: logg}
}

// Merge describes one occurrence batch for a stack.
type Merge struct {
	Stack         *models.Stack
	SignatureHash string
	MinUTC        time.Time
	MaxUTC        time.Time
	Count         int64
}

// Apply merges the batch into the stack row, retrying bounded times on write
// conflicts. An exhausted merge is logged and abandoned, never surfaced as a
// job failure.
func (c *Counter) Apply(ctx context.Context, merge Merge) error {
	if merge.Stack == nil || merge.Count <= 0 {
		return nil
	}
	stackID := merge.Stack.ID
	ctx = c.logg.WithStackID(ctx, stackID.String())

	backoff := retry.WithMaxRetries(maxMergeAttempts-1, retry.NewConstant(mergeRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if mergeErr := c.repo.IncrementEventCounter(ctx, stackID, merge.MinUTC, merge.MaxUTC, merge.Count); mergeErr != nil {
			if dbpkg.IsSerializationConflict(mergeErr) {
				return retry.RetryableError(mergeErr)
			}
			return mergeErr
		}
		return nil
	})
	if err != nil {
		if dbpkg.IsSerializationConflict(err) {
			c.metrics.IncMergesAbandoned()
			c.logg.Warn(ctx, "stack counter merge abandoned after repeated conflicts")
			return nil
		}
		return err
	}

	// drop the signature entry so the next resolve reads the merged row
	if invalidateErr := c.resolver.Invalidate(ctx, merge.Stack.ProjectID, merge.SignatureHash); invalidateErr != nil {
		c.logg.Warn(ctx, "invalidating stack signature cache failed")
	}

	c.debouncer.Trigger(payloads.StackChangedEvent{
		StackID:        stackID,
		ProjectID:      merge.Stack.ProjectID,
		OrganizationID: merge.Stack.OrganizationID,
		ChangedAt:      time.Now().UTC(),
	})
	return nil
}

// MarkRegressed reopens a fixed stack and broadcasts the change.
func (c *Counter) MarkRegressed(ctx context.Context, stack *models.Stack) error {
	if err := c.repo.MarkRegressed(ctx, stack.ID); err != nil {
		return err
	}
	stack.IsRegressed = true
	stack.DateFixed = nil
	c.debouncer.Trigger(payloads.StackChangedEvent{
		StackID:        stack.ID,
		ProjectID:      stack.ProjectID,
		OrganizationID: stack.OrganizationID,
		ChangedAt:      time.Now().UTC(),
	})
	return nil
}

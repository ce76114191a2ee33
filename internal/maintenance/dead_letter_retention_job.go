package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/faultline-io/faultline-backend/pkg/logger"
)

const defaultDeadLetterRetention = 14 * 24 * time.Hour

type deadLetterSweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterRetentionJobParams struct {
	Logger    *logger.Logger
	Sweeper   deadLetterSweeper
	Retention time.Duration
}

// NewDeadLetterRetentionJob builds the job that prunes parked queue messages
// past their retention window. Parked rows are an operator inspection aid,
// not a replay source, so aging them out is safe.
func NewDeadLetterRetentionJob(params DeadLetterRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("dead letter repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultDeadLetterRetention
	}
	return &deadLetterRetentionJob{
		logg:      params.Logger,
		sweeper:   params.Sweeper,
		retention: retention,
		now:       time.Now,
	}, nil
}

type deadLetterRetentionJob struct {
	logg      *logger.Logger
	sweeper   deadLetterSweeper
	retention time.Duration
	now       func() time.Time
}

func (j *deadLetterRetentionJob) Name() string { return "dead-letter-retention" }

func (j *deadLetterRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.sweeper.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("dead letter retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "dead letter cleanup complete")
	return nil
}

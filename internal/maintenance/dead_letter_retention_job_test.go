package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faultline-io/faultline-backend/pkg/logger"
)

type fakeDeadLetterSweeper struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeDeadLetterSweeper) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func TestDeadLetterRetentionJobUsesConfiguredWindow(t *testing.T) {
	now := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	sweeper := &fakeDeadLetterSweeper{}
	jobIface, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Sweeper:   sweeper,
		Retention: 48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	job := jobIface.(*deadLetterRetentionJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expected := now.Add(-48 * time.Hour)
	if !sweeper.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, sweeper.lastCutoff)
	}
	if sweeper.called != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.called)
	}
}

func TestDeadLetterRetentionJobDefaultsRetention(t *testing.T) {
	jobIface, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: &fakeDeadLetterSweeper{},
	})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	if jobIface.(*deadLetterRetentionJob).retention != defaultDeadLetterRetention {
		t.Fatal("expected default retention applied")
	}
}

func TestDeadLetterRetentionJobPropagatesError(t *testing.T) {
	jobIface, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
		Sweeper: &fakeDeadLetterSweeper{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

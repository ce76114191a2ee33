package queue

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/faultline-io/faultline-backend/pkg/db/models"
)

// DeadLetterRepository persists parked messages.
type DeadLetterRepository struct {
	db *gorm.DB
}

// NewDeadLetterRepository builds the repository bound to the provided DB.
func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Record inserts one dead-letter row.
func (r *DeadLetterRepository) Record(ctx context.Context, entry models.QueueDeadLetter) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

// List returns recent dead letters for the named queue.
func (r *DeadLetterRepository) List(ctx context.Context, queueName string, limit int) ([]models.QueueDeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.QueueDeadLetter
	err := r.db.WithContext(ctx).
		Where("queue_name = ?", queueName).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteOlderThan removes parked rows past the retention horizon.
func (r *DeadLetterRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("failed_at < ?", cutoff).
		Delete(&models.QueueDeadLetter{})
	return result.RowsAffected, result.Error
}

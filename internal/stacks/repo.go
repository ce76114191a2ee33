package stacks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/faultline-io/faultline-backend/pkg/db/models"
)

// StackingVersion tags signature hashes with the fingerprint algorithm that
// produced them. Bump when the fingerprint changes so old cache entries and
// rows never collide with new ones.
const StackingVersion = "v2"

// ErrStackNotFound is returned when no stack matches the signature.
var ErrStackNotFound = errors.New("stack not found")

// ErrStackHasEvents is returned when deleting a stack that events still
// reference.
var ErrStackHasEvents = errors.New("stack still has events")

// Repository is the persistence surface for stacks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, stack *models.Stack) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Stack, error)
	FindBySignature(ctx context.Context, projectID uuid.UUID, signatureHash string) (*models.Stack, error)
	IncrementEventCounter(ctx context.Context, stackID uuid.UUID, minUTC, maxUTC time.Time, count int64) error
	MarkRegressed(ctx context.Context, stackID uuid.UUID) error
	Delete(ctx context.Context, stackID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stacks repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, stack *models.Stack) error {
	return r.db.WithContext(ctx).Create(stack).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Stack, error) {
	var stack models.Stack
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStackNotFound
		}
		return nil, err
	}
	return &stack, nil
}

func (r *repository) FindBySignature(ctx context.Context, projectID uuid.UUID, signatureHash string) (*models.Stack, error) {
	var stack models.Stack
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND signature_hash = ? AND stacking_version = ?", projectID, signatureHash, StackingVersion).
		Order("created_at ASC").
		First(&stack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStackNotFound
		}
		return nil, err
	}
	return &stack, nil
}

// IncrementEventCounter merges an occurrence batch into the stack counters
// with one server-evaluated UPDATE; there is no client read-modify-write.
func (r *repository) IncrementEventCounter(ctx context.Context, stackID uuid.UUID, minUTC, maxUTC time.Time, count int64) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE stacks SET
			first_occurrence  = CASE WHEN total_occurrences = 0 OR first_occurrence > ? THEN ? ELSE first_occurrence END,
			last_occurrence   = CASE WHEN last_occurrence < ? THEN ? ELSE last_occurrence END,
			total_occurrences = total_occurrences + ?,
			updated_at        = CURRENT_TIMESTAMP
		WHERE id = ?`,
		minUTC.UTC(), minUTC.UTC(), maxUTC.UTC(), maxUTC.UTC(), count, stackID,
	).Error
}

// MarkRegressed reopens a fixed stack. Single-writer: only the ingest
// pipeline flips this flag.
func (r *repository) MarkRegressed(ctx context.Context, stackID uuid.UUID) error {
	stack, err := r.FindByID(ctx, stackID)
	if err != nil {
		return err
	}
	stack.IsRegressed = true
	stack.DateFixed = nil
	return r.db.WithContext(ctx).Save(stack).Error
}

// Delete removes a stack, refusing while events still reference it.
func (r *repository) Delete(ctx context.Context, stackID uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Event{}).Where("stack_id = ?", stackID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrStackHasEvents
	}
	return r.db.WithContext(ctx).Where("id = ?", stackID).Delete(&models.Stack{}).Error
}

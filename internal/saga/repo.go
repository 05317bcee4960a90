package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateTx(tx *gorm.DB, state models.SagaState) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&state).Error
}

func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*models.SagaState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var state models.SagaState
	err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// UpdateTransitionTx persists a transition guarded by the version the caller
// read. Zero rows updated means another writer advanced the saga first; the
// caller re-reads and reapplies.
func (r *Repository) UpdateTransitionTx(tx *gorm.DB, state models.SagaState, expectedVersion int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	result := tx.Model(&models.SagaState{}).
		Where("correlation_id = ? AND version = ?", state.CorrelationID, expectedVersion).
		Updates(map[string]any{
			"current_state":          state.CurrentState,
			"inventory_reserved":     state.InventoryReserved,
			"payment_processed":      state.PaymentProcessed,
			"inventory_released":     state.InventoryReleased,
			"payment_refunded":       state.PaymentRefunded,
			"payment_transaction_id": state.PaymentTransactionID,
			"failure_reason":         state.FailureReason,
			"retry_count":            state.RetryCount,
			"next_retry_at":          state.NextRetryAt,
			"completed_at":           state.CompletedAt,
			"failed_at":              state.FailedAt,
			"version":                expectedVersion + 1,
			"updated_at":             time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeStateConflict, "saga was updated concurrently")
	}
	return nil
}

// ScheduleRetry records the retry bookkeeping without bumping the version;
// the saga state itself has not changed.
func (r *Repository) ScheduleRetry(ctx context.Context, correlationID uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.db.WithContext(ctx).Model(&models.SagaState{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]any{
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now(),
		}).Error
}

// FindDueRetries returns sagas whose scheduled retry has come due.
func (r *Repository) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SagaState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []models.SagaState
	err := r.db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindStuck returns non-terminal sagas with no scheduled retry that have not
// been touched since the cutoff. These are sagas whose process died after the
// transition committed but before the follow-up activity call ran; their
// triggering message is either deduplicated or a state-machine no-op on
// redelivery, so only this scan can resume them.
func (r *Repository) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.SagaState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []models.SagaState
	err := r.db.WithContext(ctx).
		Where("current_state NOT IN (?, ?) AND next_retry_at IS NULL AND updated_at <= ?",
			enums.SagaStateCompleted, enums.SagaStateFailed, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ClaimStuck touches the row so only one sweeper resumes a stalled saga. The
// refreshed updated_at keeps the saga out of the stuck scan for another full
// threshold window.
func (r *Repository) ClaimStuck(ctx context.Context, correlationID uuid.UUID, cutoff time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := r.db.WithContext(ctx).Model(&models.SagaState{}).
		Where("correlation_id = ? AND next_retry_at IS NULL AND updated_at <= ?", correlationID, cutoff).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimRetry clears the retry marker so only one sweeper re-runs the saga.
func (r *Repository) ClaimRetry(ctx context.Context, correlationID uuid.UUID, now time.Time) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := r.db.WithContext(ctx).Model(&models.SagaState{}).
		Where("correlation_id = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", correlationID, now).
		Updates(map[string]any{
			"next_retry_at": nil,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

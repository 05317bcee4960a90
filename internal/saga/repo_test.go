package saga

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	dbtypes "github.com/angelmondragon/fulfillment-core/pkg/db/types"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
)

func setupSagaTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`DROP TABLE IF EXISTS saga_states`).Error)
	require.NoError(t, db.Exec(`
CREATE TABLE saga_states (
  correlation_id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  total_amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  shipping_address TEXT NOT NULL,
  billing_address TEXT NOT NULL,
  items TEXT NOT NULL,
  current_state TEXT NOT NULL DEFAULT 'created',
  inventory_reserved INTEGER NOT NULL DEFAULT 0,
  payment_processed INTEGER NOT NULL DEFAULT 0,
  inventory_released INTEGER NOT NULL DEFAULT 0,
  payment_refunded INTEGER NOT NULL DEFAULT 0,
  payment_transaction_id TEXT,
  failure_reason TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  next_retry_at DATETIME,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  completed_at DATETIME,
  failed_at DATETIME
);`).Error)

	return db
}

func seedSagaState(t *testing.T, db *gorm.DB, repo *Repository) models.SagaState {
	t.Helper()
	state := models.SagaState{
		CorrelationID: uuid.New(),
		OrderID:       uuid.New(),
		CustomerID:    uuid.New(),
		TotalAmount:   decimal.NewFromFloat(120.00),
		Currency:      "USD",
		Items: dbtypes.OrderItems{
			{ProductID: uuid.New(), ProductName: "widget", Quantity: 1, UnitPrice: decimal.NewFromFloat(120.00)},
		},
		CurrentState: enums.SagaStateCreated,
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.CreateTx(tx, state)
	}))
	return state
}

func TestRepositoryCreateAndFind(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)

	state := seedSagaState(t, db, repo)

	found, err := repo.FindByCorrelationID(context.Background(), state.CorrelationID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, state.OrderID, found.OrderID)
	assert.Equal(t, enums.SagaStateCreated, found.CurrentState)
	assert.Equal(t, 0, found.Version)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "widget", found.Items[0].ProductName)
}

func TestRepositoryFindMissingReturnsNil(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)

	found, err := repo.FindByCorrelationID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepositoryUpdateTransitionBumpsVersion(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)

	state := seedSagaState(t, db, repo)
	state.CurrentState = enums.SagaStateInventoryReserving

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateTransitionTx(tx, state, 0)
	}))

	found, err := repo.FindByCorrelationID(context.Background(), state.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, enums.SagaStateInventoryReserving, found.CurrentState)
	assert.Equal(t, 1, found.Version)
}

func TestRepositoryUpdateTransitionDetectsStaleVersion(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)

	state := seedSagaState(t, db, repo)
	state.CurrentState = enums.SagaStateInventoryReserving

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateTransitionTx(tx, state, 0)
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateTransitionTx(tx, state, 0)
	})
	require.Error(t, err)
	typed := apperrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, apperrors.CodeStateConflict, typed.Code())
}

func TestRepositoryRetryLifecycle(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	state := seedSagaState(t, db, repo)
	now := time.Now().UTC()

	require.NoError(t, repo.ScheduleRetry(ctx, state.CorrelationID, 2, now.Add(-time.Second)))

	due, err := repo.FindDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, state.CorrelationID, due[0].CorrelationID)
	assert.Equal(t, 2, due[0].RetryCount)

	claimed, err := repo.ClaimRetry(ctx, state.CorrelationID, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// second claim finds nothing to take
	claimed, err = repo.ClaimRetry(ctx, state.CorrelationID, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = repo.FindDueRetries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRepositoryFindAndClaimStuck(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	state := seedSagaState(t, db, repo)
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Exec(
		`UPDATE saga_states SET current_state = ?, updated_at = ? WHERE correlation_id = ?`,
		enums.SagaStateInventoryReserving, stale, state.CorrelationID,
	).Error)

	cutoff := time.Now().UTC().Add(-2 * time.Minute)
	stuck, err := repo.FindStuck(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, state.CorrelationID, stuck[0].CorrelationID)

	claimed, err := repo.ClaimStuck(ctx, state.CorrelationID, cutoff)
	require.NoError(t, err)
	assert.True(t, claimed)

	// the claim refreshed updated_at, so a second sweeper finds nothing
	stuck, err = repo.FindStuck(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)

	claimed, err = repo.ClaimStuck(ctx, state.CorrelationID, cutoff)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRepositoryStuckScanSkipsTerminalAndScheduled(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-time.Hour)

	done := seedSagaState(t, db, repo)
	require.NoError(t, db.Exec(
		`UPDATE saga_states SET current_state = ?, updated_at = ? WHERE correlation_id = ?`,
		enums.SagaStateCompleted, stale, done.CorrelationID,
	).Error)

	scheduled := seedSagaState(t, db, repo)
	require.NoError(t, db.Exec(
		`UPDATE saga_states SET current_state = ?, next_retry_at = ?, updated_at = ? WHERE correlation_id = ?`,
		enums.SagaStateInventoryReserving, stale, stale, scheduled.CorrelationID,
	).Error)

	stuck, err := repo.FindStuck(ctx, time.Now().UTC().Add(-2*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestRepositoryFutureRetriesAreNotDue(t *testing.T) {
	db := setupSagaTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	state := seedSagaState(t, db, repo)
	now := time.Now().UTC()

	require.NoError(t, repo.ScheduleRetry(ctx, state.CorrelationID, 1, now.Add(time.Hour)))

	due, err := repo.FindDueRetries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

func setupDLQTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := setupOutboxTestDB(t)
	require.NoError(t, db.Exec(`DROP TABLE IF EXISTS outbox_dlq`).Error)
	require.NoError(t, db.Exec(`
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`).Error)

	return db
}

func dlqEntry(reason enums.OutboxDLQErrorReason, message string, failedAt time.Time) models.OutboxDLQ {
	var msg *string
	if message != "" {
		msg = &message
	}
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		EventType:     enums.EventOrderFailed,
		AggregateType: enums.AggregateOrderSaga,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		ErrorReason:   reason,
		ErrorMessage:  msg,
		AttemptCount:  3,
		FailedAt:      failedAt,
	}
}

func TestDLQInsertAndFindByEventID(t *testing.T) {
	db := setupDLQTestDB(t)
	repo := NewDLQRepository(db)

	entry := dlqEntry(enums.OutboxDLQReasonMaxAttempts, "publish timeout", time.Now().UTC())
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, entry)
	}))

	found, err := repo.FindByEventID(context.Background(), entry.EventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.EventID, found.EventID)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, found.ErrorReason)
	require.NotNil(t, found.ErrorMessage)
	assert.Equal(t, "publish timeout", *found.ErrorMessage)
}

func TestDLQFindMissingReturnsNil(t *testing.T) {
	db := setupDLQTestDB(t)
	repo := NewDLQRepository(db)

	found, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDLQInsertTruncatesLongErrors(t *testing.T) {
	db := setupDLQTestDB(t)
	repo := NewDLQRepository(db)

	entry := dlqEntry(enums.OutboxDLQReasonNonRetryable, strings.Repeat("x", maxDLQErrorLen+500), time.Now().UTC())
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.InsertTx(tx, entry)
	}))

	found, err := repo.FindByEventID(context.Background(), entry.EventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.ErrorMessage)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)
}

func TestDLQListReturnsNewestFirst(t *testing.T) {
	db := setupDLQTestDB(t)
	repo := NewDLQRepository(db)

	now := time.Now().UTC()
	older := dlqEntry(enums.OutboxDLQReasonMaxAttempts, "", now.Add(-time.Hour))
	newer := dlqEntry(enums.OutboxDLQReasonNonRetryable, "", now)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertTx(tx, older); err != nil {
			return err
		}
		return repo.InsertTx(tx, newer)
	}))

	rows, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.EventID, rows[0].EventID)
	assert.Equal(t, older.EventID, rows[1].EventID)
}

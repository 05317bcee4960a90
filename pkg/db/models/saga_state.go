package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/fulfillment-core/pkg/db/types"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

// SagaState is the durable record for one in-flight order fulfillment process.
// One row per correlation id; Version guards concurrent transitions.
type SagaState struct {
	CorrelationID        uuid.UUID              `gorm:"column:correlation_id;type:uuid;primaryKey"`
	OrderID              uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index:idx_saga_states_order"`
	CustomerID           uuid.UUID              `gorm:"column:customer_id;type:uuid;not null"`
	TotalAmount          decimal.Decimal        `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency             string                 `gorm:"column:currency;type:varchar(3);not null;default:USD"`
	ShippingAddress      dbtypes.Address        `gorm:"column:shipping_address;type:jsonb;not null"`
	BillingAddress       dbtypes.Address        `gorm:"column:billing_address;type:jsonb;not null"`
	Items                dbtypes.OrderItems     `gorm:"column:items;type:jsonb;not null"`
	CurrentState         enums.SagaCurrentState `gorm:"column:current_state;type:saga_state_enum;not null"`
	InventoryReserved    bool                   `gorm:"column:inventory_reserved;not null;default:false"`
	PaymentProcessed     bool                   `gorm:"column:payment_processed;not null;default:false"`
	InventoryReleased    bool                   `gorm:"column:inventory_released;not null;default:false"`
	PaymentRefunded      bool                   `gorm:"column:payment_refunded;not null;default:false"`
	PaymentTransactionID *string                `gorm:"column:payment_transaction_id"`
	FailureReason        *string                `gorm:"column:failure_reason"`
	RetryCount           int                    `gorm:"column:retry_count;not null;default:0"`
	NextRetryAt          *time.Time             `gorm:"column:next_retry_at;index:idx_saga_states_next_retry"`
	Version              int                    `gorm:"column:version;not null;default:0"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt          *time.Time             `gorm:"column:completed_at"`
	FailedAt             *time.Time             `gorm:"column:failed_at"`
}

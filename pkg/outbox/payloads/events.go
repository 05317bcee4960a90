package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCompletedEvent announces a fulfilled order to downstream consumers.
type OrderCompletedEvent struct {
	CorrelationID        uuid.UUID       `json:"correlation_id"`
	OrderID              uuid.UUID       `json:"order_id"`
	CustomerID           uuid.UUID       `json:"customer_id"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Currency             string          `json:"currency"`
	PaymentTransactionID string          `json:"payment_transaction_id"`
	CompletedAt          time.Time       `json:"completed_at"`
}

// OrderFailedEvent announces a terminally failed order after compensation ran.
type OrderFailedEvent struct {
	CorrelationID     uuid.UUID `json:"correlation_id"`
	OrderID           uuid.UUID `json:"order_id"`
	CustomerID        uuid.UUID `json:"customer_id"`
	FailureReason     string    `json:"failure_reason"`
	InventoryReleased bool      `json:"inventory_released"`
	PaymentRefunded   bool      `json:"payment_refunded"`
	FailedAt          time.Time `json:"failed_at"`
}

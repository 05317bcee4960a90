package saga

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	dbtypes "github.com/angelmondragon/fulfillment-core/pkg/db/types"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

// EventType names every input the state machine understands. Activity results
// are folded into these types so the transition function stays pure.
type EventType string

const (
	EventOrderCreationStarted EventType = "order_creation_started"
	EventInventoryReserved    EventType = "inventory_reserved"
	EventInventoryFailed      EventType = "inventory_reservation_failed"
	EventPaymentProcessed     EventType = "payment_processed"
	EventPaymentFailed        EventType = "payment_failed"
	EventInventoryReleased    EventType = "inventory_released"
	EventPaymentRefunded      EventType = "payment_refunded"
)

// Event is one typed input to the saga.
type Event struct {
	Type          EventType
	CorrelationID uuid.UUID
	Order         *OrderDetails
	TransactionID string
	Reason        string
}

// OrderItemInput is one order line as received on the wire.
type OrderItemInput struct {
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
}

// OrderDetails carries the order snapshot captured when the saga starts.
type OrderDetails struct {
	OrderID         uuid.UUID        `json:"order_id" validate:"required"`
	CustomerID      uuid.UUID        `json:"customer_id" validate:"required"`
	TotalAmount     decimal.Decimal  `json:"total_amount" validate:"required"`
	Currency        string           `json:"currency" validate:"required,len=3"`
	Items           []OrderItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress dbtypes.Address  `json:"shipping_address" validate:"required"`
	BillingAddress  dbtypes.Address  `json:"billing_address" validate:"required"`
}

// OrderCreationStarted is the wire payload consumed from the orders subscription.
type OrderCreationStarted struct {
	CorrelationID uuid.UUID `json:"correlation_id" validate:"required"`
	OrderDetails
}

// Event converts the wire payload into the machine's input type.
func (p OrderCreationStarted) Event() Event {
	details := p.OrderDetails
	return Event{
		Type:          EventOrderCreationStarted,
		CorrelationID: p.CorrelationID,
		Order:         &details,
	}
}

// NewState builds the initial durable row for the payload.
func (p OrderCreationStarted) NewState() models.SagaState {
	items := make(dbtypes.OrderItems, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, dbtypes.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
		})
	}
	return models.SagaState{
		CorrelationID:   p.CorrelationID,
		OrderID:         p.OrderID,
		CustomerID:      p.CustomerID,
		TotalAmount:     p.TotalAmount,
		Currency:        p.Currency,
		ShippingAddress: p.ShippingAddress,
		BillingAddress:  p.BillingAddress,
		Items:           items,
		CurrentState:    enums.SagaStateCreated,
	}
}

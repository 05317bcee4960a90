package activities

// Result is the normalized outcome of one activity call. Success false means
// the downstream service rejected the request for business reasons; transport
// and server failures surface as errors instead.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type reserveInventoryRequest struct {
	CorrelationID string          `json:"correlation_id"`
	OrderID       string          `json:"order_id"`
	Items         []inventoryItem `json:"items"`
}

type releaseInventoryRequest struct {
	CorrelationID string          `json:"correlation_id"`
	OrderID       string          `json:"order_id"`
	Items         []inventoryItem `json:"items"`
}

type inventoryItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type processPaymentRequest struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type refundPaymentRequest struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type activityResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

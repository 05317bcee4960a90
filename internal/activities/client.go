package activities

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/fulfillment-core/pkg/config"
	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
	"github.com/angelmondragon/fulfillment-core/pkg/loadbalancer"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
	"github.com/angelmondragon/fulfillment-core/pkg/metrics"
)

// instanceSource provides the current healthy replicas for a service.
type instanceSource interface {
	Snapshot(ctx context.Context, serviceName string) ([]loadbalancer.ServiceInstance, error)
}

// Client calls the inventory and payment services over HTTP. Every request
// resolves a replica through discovery plus the configured balancing strategy
// and carries an idempotency key derived from the saga correlation id.
type Client struct {
	http      *resty.Client
	discovery instanceSource
	strategy  loadbalancer.Strategy
	cfg       config.ActivitiesConfig
	logg      *logger.Logger
	metrics   *metrics.BalancerMetrics
}

type ClientParams struct {
	Discovery instanceSource
	Strategy  loadbalancer.Strategy
	Config    config.ActivitiesConfig
	Logger    *logger.Logger
	Metrics   *metrics.BalancerMetrics
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Discovery == nil {
		return nil, errors.New("discovery source is required")
	}
	if params.Strategy == nil {
		return nil, errors.New("balancing strategy is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}

	httpClient := resty.New().
		SetTimeout(params.Config.RequestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:      httpClient,
		discovery: params.Discovery,
		strategy:  params.Strategy,
		cfg:       params.Config,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

// ReserveInventory asks the inventory service to hold stock for every item.
func (c *Client) ReserveInventory(ctx context.Context, state models.SagaState) (Result, error) {
	body := reserveInventoryRequest{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		Items:         inventoryItems(state),
	}
	return c.post(ctx, c.cfg.InventoryService, "/inventory/reserve", "reserve", state, body)
}

// ReleaseInventory returns previously reserved stock during compensation.
func (c *Client) ReleaseInventory(ctx context.Context, state models.SagaState) (Result, error) {
	body := releaseInventoryRequest{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		Items:         inventoryItems(state),
	}
	return c.post(ctx, c.cfg.InventoryService, "/inventory/release", "release", state, body)
}

// ProcessPayment charges the customer for the order total.
func (c *Client) ProcessPayment(ctx context.Context, state models.SagaState) (Result, error) {
	body := processPaymentRequest{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		CustomerID:    state.CustomerID.String(),
		Amount:        state.TotalAmount.StringFixed(2),
		Currency:      state.Currency,
	}
	return c.post(ctx, c.cfg.PaymentService, "/payments/charge", "charge", state, body)
}

// RefundPayment reverses a processed charge during compensation.
func (c *Client) RefundPayment(ctx context.Context, state models.SagaState) (Result, error) {
	transactionID := ""
	if state.PaymentTransactionID != nil {
		transactionID = *state.PaymentTransactionID
	}
	body := refundPaymentRequest{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		TransactionID: transactionID,
		Amount:        state.TotalAmount.StringFixed(2),
		Currency:      state.Currency,
	}
	return c.post(ctx, c.cfg.PaymentService, "/payments/refund", "refund", state, body)
}

func inventoryItems(state models.SagaState) []inventoryItem {
	items := make([]inventoryItem, 0, len(state.Items))
	for _, item := range state.Items {
		items = append(items, inventoryItem{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
		})
	}
	return items
}

func (c *Client) post(ctx context.Context, serviceName, path, operation string, state models.SagaState, body any) (Result, error) {
	baseURL, err := c.resolveEndpoint(ctx, serviceName)
	if err != nil {
		return Result{}, err
	}

	var out activityResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", fmt.Sprintf("%s:%s", state.CorrelationID, operation)).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(baseURL + path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, apperrors.Wrap(apperrors.CodeTimeout, err, fmt.Sprintf("%s %s timed out", serviceName, path))
		}
		return Result{}, apperrors.Wrap(apperrors.CodeDependency, err, fmt.Sprintf("calling %s %s", serviceName, path))
	}

	return mapResponse(serviceName, path, resp.StatusCode(), out)
}

func (c *Client) resolveEndpoint(ctx context.Context, serviceName string) (string, error) {
	candidates, err := c.discovery.Snapshot(ctx, serviceName)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDependency, err, fmt.Sprintf("discovering %s", serviceName))
	}
	instance, err := c.strategy.Select(candidates)
	if err != nil {
		c.metrics.IncExhausted(serviceName)
		return "", apperrors.Wrap(apperrors.CodeDependency, err, fmt.Sprintf("no healthy %s instance", serviceName))
	}
	c.metrics.IncSelection(serviceName)
	return "http://" + instance.Addr(), nil
}

func mapResponse(serviceName, path string, status int, out activityResponse) (Result, error) {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		// a 2xx with an explicit rejection body is still a business failure
		if !out.Success && out.Reason != "" {
			return Result{Success: false, Reason: out.Reason}, nil
		}
		return Result{Success: true, TransactionID: out.TransactionID}, nil

	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		// business rejection, never retried
		reason := out.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s rejected request (%d)", serviceName, status)
		}
		return Result{Success: false, Reason: reason}, nil

	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return Result{}, apperrors.New(apperrors.CodeTimeout, fmt.Sprintf("%s %s returned %d", serviceName, path, status))

	case status >= http.StatusInternalServerError:
		return Result{}, apperrors.New(apperrors.CodeDependency, fmt.Sprintf("%s %s returned %d", serviceName, path, status))

	default:
		return Result{}, apperrors.New(apperrors.CodeRejected, fmt.Sprintf("%s %s returned %d", serviceName, path, status))
	}
}

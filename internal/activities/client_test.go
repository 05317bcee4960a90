package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-core/pkg/config"
	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	dbtypes "github.com/angelmondragon/fulfillment-core/pkg/db/types"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
	"github.com/angelmondragon/fulfillment-core/pkg/loadbalancer"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
)

type staticDiscovery struct {
	instances map[string][]loadbalancer.ServiceInstance
}

func (s *staticDiscovery) Snapshot(_ context.Context, serviceName string) ([]loadbalancer.ServiceInstance, error) {
	return s.instances[serviceName], nil
}

func instanceForServer(t *testing.T, serviceName string, server *httptest.Server) loadbalancer.ServiceInstance {
	t.Helper()
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return loadbalancer.ServiceInstance{
		ServiceID:   "test-1",
		ServiceName: serviceName,
		Host:        parsed.Hostname(),
		Port:        port,
		Weight:      1,
		IsHealthy:   true,
	}
}

func newTestClient(t *testing.T, serviceName string, server *httptest.Server) *Client {
	t.Helper()
	discovery := &staticDiscovery{instances: map[string][]loadbalancer.ServiceInstance{
		serviceName: {instanceForServer(t, serviceName, server)},
	}}
	client, err := NewClient(ClientParams{
		Discovery: discovery,
		Strategy:  loadbalancer.NewRoundRobin(),
		Config: config.ActivitiesConfig{
			InventoryService: "inventory-service",
			PaymentService:   "payment-service",
		},
		Logger: logger.New(logger.Options{Level: zerolog.ErrorLevel}),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func testSagaState() models.SagaState {
	transactionID := "txn-original"
	return models.SagaState{
		CorrelationID:        uuid.New(),
		OrderID:              uuid.New(),
		CustomerID:           uuid.New(),
		TotalAmount:          decimal.NewFromFloat(99.95),
		Currency:             "USD",
		PaymentTransactionID: &transactionID,
		Items: dbtypes.OrderItems{
			{ProductID: uuid.New(), ProductName: "widget", Quantity: 2, UnitPrice: decimal.NewFromFloat(49.97)},
		},
	}
}

func TestReserveInventorySuccess(t *testing.T) {
	state := testSagaState()

	var gotPath, gotKey string
	var gotBody reserveInventoryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activityResponse{Success: true})
	}))
	defer server.Close()

	client := newTestClient(t, "inventory-service", server)
	result, err := client.ReserveInventory(context.Background(), state)
	if err != nil {
		t.Fatalf("reserve inventory: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if gotPath != "/inventory/reserve" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if want := state.CorrelationID.String() + ":reserve"; gotKey != want {
		t.Fatalf("unexpected idempotency key %q, want %q", gotKey, want)
	}
	if len(gotBody.Items) != 1 || gotBody.Items[0].Quantity != 2 {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
}

func TestProcessPaymentReturnsTransactionID(t *testing.T) {
	state := testSagaState()

	var gotBody processPaymentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activityResponse{Success: true, TransactionID: "txn-42"})
	}))
	defer server.Close()

	client := newTestClient(t, "payment-service", server)
	result, err := client.ProcessPayment(context.Background(), state)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if result.TransactionID != "txn-42" {
		t.Fatalf("expected transaction id, got %+v", result)
	}
	if gotBody.Amount != "99.95" || gotBody.Currency != "USD" {
		t.Fatalf("unexpected charge body %+v", gotBody)
	}
}

func TestBusinessRejectionIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(activityResponse{Success: false, Reason: "insufficient_stock"})
	}))
	defer server.Close()

	client := newTestClient(t, "inventory-service", server)
	result, err := client.ReserveInventory(context.Background(), testSagaState())
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if result.Success {
		t.Fatalf("expected rejection")
	}
	if result.Reason != "insufficient_stock" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, "payment-service", server)
	_, err := client.ProcessPayment(context.Background(), testSagaState())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestRefundUsesStoredTransactionID(t *testing.T) {
	var gotBody refundPaymentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activityResponse{Success: true})
	}))
	defer server.Close()

	client := newTestClient(t, "payment-service", server)
	if _, err := client.RefundPayment(context.Background(), testSagaState()); err != nil {
		t.Fatalf("refund payment: %v", err)
	}
	if gotBody.TransactionID != "txn-original" {
		t.Fatalf("unexpected refund body %+v", gotBody)
	}
}

func TestNoHealthyInstancesIsRetryableDependencyError(t *testing.T) {
	client, err := NewClient(ClientParams{
		Discovery: &staticDiscovery{instances: map[string][]loadbalancer.ServiceInstance{}},
		Strategy:  loadbalancer.NewRoundRobin(),
		Config: config.ActivitiesConfig{
			InventoryService: "inventory-service",
			PaymentService:   "payment-service",
		},
		Logger: logger.New(logger.Options{Level: zerolog.ErrorLevel}),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ReserveInventory(context.Background(), testSagaState())
	if err == nil {
		t.Fatalf("expected error")
	}
	typed := apperrors.As(err)
	if typed == nil || typed.Code() != apperrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Fatalf("expected retryable error")
	}
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-core/internal/saga"
	"github.com/angelmondragon/fulfillment-core/pkg/config"
	dbtypes "github.com/angelmondragon/fulfillment-core/pkg/db/types"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox"
)

type nopSubscriber struct{}

func (nopSubscriber) Receive(ctx context.Context, fn func(context.Context, *gcppubsub.Message)) error {
	<-ctx.Done()
	return ctx.Err()
}

type nopSaga struct{}

func (nopSaga) Dispatch(context.Context, saga.Event) error { return nil }
func (nopSaga) Sweep(context.Context) (int, error)         { return 0, nil }

type nopDedup struct{}

func (nopDedup) CheckAndMarkProcessed(context.Context, string, uuid.UUID) (bool, error) {
	return false, nil
}
func (nopDedup) Delete(context.Context, string, uuid.UUID) error { return nil }

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerParams{
		Config:      config.SagaConfig{SweepIntervalMS: 1000},
		Logger:      logger.New(logger.Options{ServiceName: "saga-worker-test", Output: io.Discard}),
		Subscriber:  nopSubscriber{},
		Saga:        nopSaga{},
		Idempotency: nopDedup{},
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return worker
}

func envelopeWith(t *testing.T, data any) outbox.PayloadEnvelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
}

func TestDecodeEventOrderCreation(t *testing.T) {
	worker := newTestWorker(t)

	address := dbtypes.Address{Line1: "1 Main St", City: "Denver", State: "CO", PostalCode: "80014", Country: "US"}
	payload := saga.OrderCreationStarted{
		CorrelationID: uuid.New(),
		OrderDetails: saga.OrderDetails{
			OrderID:     uuid.New(),
			CustomerID:  uuid.New(),
			TotalAmount: decimal.NewFromFloat(42.50),
			Currency:    "USD",
			Items: []saga.OrderItemInput{
				{ProductID: uuid.New(), ProductName: "widget", Quantity: 1, UnitPrice: decimal.NewFromFloat(42.50)},
			},
			ShippingAddress: address,
			BillingAddress:  address,
		},
	}

	event, err := worker.decodeEvent(saga.EventOrderCreationStarted, envelopeWith(t, payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != saga.EventOrderCreationStarted {
		t.Fatalf("unexpected event type %s", event.Type)
	}
	if event.CorrelationID != payload.CorrelationID {
		t.Fatalf("correlation id mismatch")
	}
	if event.Order == nil || event.Order.OrderID != payload.OrderID {
		t.Fatalf("order details not carried through")
	}
}

func TestDecodeEventRejectsInvalidOrderPayload(t *testing.T) {
	worker := newTestWorker(t)

	// missing items and addresses
	payload := saga.OrderCreationStarted{
		CorrelationID: uuid.New(),
		OrderDetails: saga.OrderDetails{
			OrderID:    uuid.New(),
			CustomerID: uuid.New(),
			Currency:   "USD",
		},
	}

	if _, err := worker.decodeEvent(saga.EventOrderCreationStarted, envelopeWith(t, payload)); err == nil {
		t.Fatalf("expected validation error for incomplete order payload")
	}
}

func TestDecodeEventActivityResult(t *testing.T) {
	worker := newTestWorker(t)

	correlationID := uuid.New()
	envelope := envelopeWith(t, activityResultPayload{
		CorrelationID: correlationID,
		TransactionID: "txn-12",
	})

	event, err := worker.decodeEvent(saga.EventPaymentProcessed, envelope)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != saga.EventPaymentProcessed {
		t.Fatalf("unexpected event type %s", event.Type)
	}
	if event.CorrelationID != correlationID || event.TransactionID != "txn-12" {
		t.Fatalf("payload fields not carried through: %+v", event)
	}
}

func TestDecodeEventUnknownTypeFails(t *testing.T) {
	worker := newTestWorker(t)

	envelope := envelopeWith(t, activityResultPayload{CorrelationID: uuid.New()})
	if _, err := worker.decodeEvent(saga.EventType("order_archived"), envelope); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
}

func TestDecodeEventEmptyPayloadFails(t *testing.T) {
	worker := newTestWorker(t)

	envelope := outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString()}
	if _, err := worker.decodeEvent(saga.EventInventoryReserved, envelope); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestShouldRedeliverClassification(t *testing.T) {
	worker := newTestWorker(t)

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient dependency", apperrors.New(apperrors.CodeDependency, "db down"), true},
		{"unknown saga", apperrors.New(apperrors.CodeNotFound, "saga missing"), true},
		{"business rejection", apperrors.New(apperrors.CodeRejected, "card declined"), false},
		{"validation", apperrors.New(apperrors.CodeValidation, "bad payload"), false},
	}
	for _, tc := range cases {
		if got := worker.shouldRedeliver(tc.err); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

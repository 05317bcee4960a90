package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-core/internal/saga"
	"github.com/angelmondragon/fulfillment-core/pkg/config"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox"
)

const (
	consumerName           = "saga-worker"
	eventTypeAttribute     = "event_type"
	defaultSweepIntervalMS = 1000
)

type sagaService interface {
	Dispatch(ctx context.Context, event saga.Event) error
	Sweep(ctx context.Context) (int, error)
}

type dedupManager interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type subscriber interface {
	Receive(ctx context.Context, fn func(context.Context, *gcppubsub.Message)) error
}

type WorkerParams struct {
	Config      config.SagaConfig
	Logger      *logger.Logger
	Subscriber  subscriber
	Saga        sagaService
	Idempotency dedupManager
}

// Worker consumes saga events from the subscription, dedups them by event id,
// and feeds them to the saga service. A side ticker sweeps sagas whose
// scheduled retry came due and resumes sagas stalled by a crashed process.
type Worker struct {
	logg          *logger.Logger
	sub           subscriber
	saga          sagaService
	dedup         dedupManager
	validate      *validator.Validate
	sweepInterval time.Duration
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if params.Saga == nil {
		return nil, errors.New("saga service is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}

	sweepMs := params.Config.SweepIntervalMS
	if sweepMs <= 0 {
		sweepMs = defaultSweepIntervalMS
	}

	return &Worker{
		logg:          params.Logger,
		sub:           params.Subscriber,
		saga:          params.Saga,
		dedup:         params.Idempotency,
		validate:      validator.New(),
		sweepInterval: time.Duration(sweepMs) * time.Millisecond,
	}, nil
}

func (w *Worker) Run(ctx context.Context) error {
	go w.runSweeper(ctx)

	if err := w.sub.Receive(ctx, w.handleMessage); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (w *Worker) handleMessage(ctx context.Context, msg *gcppubsub.Message) {
	eventType := saga.EventType(msg.Attributes[eventTypeAttribute])
	ctx = w.logg.WithField(ctx, "event_type", string(eventType))

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		w.logg.Error(ctx, "dropping undecodable saga message", err)
		msg.Ack()
		return
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		w.logg.Error(ctx, "dropping saga message without a valid event id", err)
		msg.Ack()
		return
	}
	ctx = w.logg.WithField(ctx, "event_id", eventID.String())

	alreadyProcessed, err := w.dedup.CheckAndMarkProcessed(ctx, consumerName, eventID)
	if err != nil {
		w.logg.Error(ctx, "idempotency check failed, message will be redelivered", err)
		msg.Nack()
		return
	}
	if alreadyProcessed {
		w.logg.Info(ctx, "duplicate saga message acknowledged")
		msg.Ack()
		return
	}

	event, err := w.decodeEvent(eventType, envelope)
	if err != nil {
		w.logg.Error(ctx, "dropping malformed saga message", err)
		msg.Ack()
		return
	}

	if err := w.saga.Dispatch(ctx, event); err != nil {
		if w.shouldRedeliver(err) {
			if delErr := w.dedup.Delete(ctx, consumerName, eventID); delErr != nil {
				w.logg.Error(ctx, "failed to clear idempotency mark", delErr)
			}
			w.logg.Warn(w.logg.WithField(ctx, "error", err.Error()), "saga dispatch failed, message will be redelivered")
			msg.Nack()
			return
		}
		w.logg.Error(ctx, "saga dispatch failed permanently", err)
		msg.Ack()
		return
	}

	msg.Ack()
}

// shouldRedeliver treats transient failures and unknown correlation ids as
// retryable: a result event can arrive before the creation event is durable.
func (w *Worker) shouldRedeliver(err error) bool {
	if apperrors.IsRetryable(err) {
		return true
	}
	if typed := apperrors.As(err); typed != nil && typed.Code() == apperrors.CodeNotFound {
		return true
	}
	return false
}

func (w *Worker) decodeEvent(eventType saga.EventType, envelope outbox.PayloadEnvelope) (saga.Event, error) {
	if len(envelope.Data) == 0 {
		return saga.Event{}, errors.New("envelope has no payload")
	}

	if eventType == saga.EventOrderCreationStarted {
		var payload saga.OrderCreationStarted
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return saga.Event{}, fmt.Errorf("decode order creation payload: %w", err)
		}
		if err := w.validate.Struct(payload); err != nil {
			return saga.Event{}, fmt.Errorf("validate order creation payload: %w", err)
		}
		return payload.Event(), nil
	}

	switch eventType {
	case saga.EventInventoryReserved,
		saga.EventInventoryFailed,
		saga.EventPaymentProcessed,
		saga.EventPaymentFailed,
		saga.EventInventoryReleased,
		saga.EventPaymentRefunded:
	default:
		return saga.Event{}, fmt.Errorf("unknown event type %q", eventType)
	}

	var payload activityResultPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return saga.Event{}, fmt.Errorf("decode activity result payload: %w", err)
	}
	if err := w.validate.Struct(payload); err != nil {
		return saga.Event{}, fmt.Errorf("validate activity result payload: %w", err)
	}

	return saga.Event{
		Type:          eventType,
		CorrelationID: payload.CorrelationID,
		TransactionID: payload.TransactionID,
		Reason:        payload.Reason,
	}, nil
}

// activityResultPayload is the wire shape shared by every non-creation event.
type activityResultPayload struct {
	CorrelationID uuid.UUID `json:"correlation_id" validate:"required"`
	TransactionID string    `json:"transaction_id"`
	Reason        string    `json:"reason"`
}

func (w *Worker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resumed, err := w.saga.Sweep(ctx)
			if err != nil {
				w.logg.Error(ctx, "saga sweep error", err)
			}
			if resumed > 0 {
				w.logg.Info(w.logg.WithField(ctx, "resumed", resumed), "saga sweep resumed stuck sagas")
			}
		}
	}
}

package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-core/internal/activities"
	"github.com/angelmondragon/fulfillment-core/pkg/config"
	dbpkg "github.com/angelmondragon/fulfillment-core/pkg/db"
	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
	apperrors "github.com/angelmondragon/fulfillment-core/pkg/errors"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
	"github.com/angelmondragon/fulfillment-core/pkg/metrics"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sagaRepository interface {
	CreateTx(tx *gorm.DB, state models.SagaState) error
	FindByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*models.SagaState, error)
	UpdateTransitionTx(tx *gorm.DB, state models.SagaState, expectedVersion int) error
	ScheduleRetry(ctx context.Context, correlationID uuid.UUID, retryCount int, nextRetryAt time.Time) error
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SagaState, error)
	ClaimRetry(ctx context.Context, correlationID uuid.UUID, now time.Time) (bool, error)
	FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.SagaState, error)
	ClaimStuck(ctx context.Context, correlationID uuid.UUID, cutoff time.Time) (bool, error)
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type activityClient interface {
	ReserveInventory(ctx context.Context, state models.SagaState) (activities.Result, error)
	ReleaseInventory(ctx context.Context, state models.SagaState) (activities.Result, error)
	ProcessPayment(ctx context.Context, state models.SagaState) (activities.Result, error)
	RefundPayment(ctx context.Context, state models.SagaState) (activities.Result, error)
}

type ServiceParams struct {
	Config     config.SagaConfig
	Logger     *logger.Logger
	Tx         txRunner
	Repository sagaRepository
	Outbox     outboxPublisher
	Activities activityClient
	Metrics    *metrics.SagaMetrics
}

// Service coordinates one order fulfillment saga per correlation id: it
// persists transitions with optimistic locking, emits terminal events through
// the outbox in the same transaction, and runs activities after commit.
type Service struct {
	cfg        config.SagaConfig
	logg       *logger.Logger
	tx         txRunner
	repo       sagaRepository
	outbox     outboxPublisher
	activities activityClient
	metrics    *metrics.SagaMetrics
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Repository == nil {
		return nil, errors.New("saga repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Activities == nil {
		return nil, errors.New("activity client is required")
	}

	cfg := params.Config
	if cfg.MaxActivityAttempts <= 0 {
		cfg.MaxActivityAttempts = 5
	}
	if cfg.RetryBaseBackoff <= 0 {
		cfg.RetryBaseBackoff = 2 * time.Second
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = time.Minute
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 2 * time.Minute
	}

	return &Service{
		cfg:        cfg,
		logg:       params.Logger,
		tx:         params.Tx,
		repo:       params.Repository,
		outbox:     params.Outbox,
		activities: params.Activities,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

// Dispatch feeds one event through the saga. For the creation event it first
// persists the initial row; replays of any event are no-ops.
func (s *Service) Dispatch(ctx context.Context, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithCorrelationID(ctx, event.CorrelationID.String())

	if event.Type == EventOrderCreationStarted {
		if err := s.startSaga(ctx, event); err != nil {
			return err
		}
	}
	return s.apply(ctx, event)
}

func (s *Service) startSaga(ctx context.Context, event Event) error {
	if event.Order == nil {
		return apperrors.New(apperrors.CodeValidation, "order details are required to start a saga")
	}

	existing, err := s.repo.FindByCorrelationID(ctx, event.CorrelationID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	payload := OrderCreationStarted{CorrelationID: event.CorrelationID, OrderDetails: *event.Order}
	state := payload.NewState()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.CreateTx(tx, state)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil
		}
		return err
	}

	ctx = s.logg.WithOrderID(ctx, state.OrderID.String())
	s.logg.Info(ctx, "saga started")
	return nil
}

func (s *Service) apply(ctx context.Context, event Event) error {
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		current, err := s.repo.FindByCorrelationID(ctx, event.CorrelationID)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("saga %s not found", event.CorrelationID))
		}

		outcome, err := Transition(*current, event, s.now())
		if err != nil {
			return err
		}
		if !outcome.Changed {
			logCtx := s.logg.WithSagaState(ctx, string(current.CurrentState))
			s.logg.Info(s.logg.WithField(logCtx, "event_type", string(event.Type)), "event ignored for current saga state")
			return nil
		}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.UpdateTransitionTx(tx, outcome.State, current.Version); err != nil {
				return err
			}
			return s.emitTerminal(ctx, tx, outcome.State)
		})
		if err != nil {
			if typed := apperrors.As(err); typed != nil && typed.Code() == apperrors.CodeStateConflict {
				continue
			}
			return err
		}

		s.metrics.IncTransition(string(outcome.State.CurrentState))
		logCtx := s.logg.WithSagaState(ctx, string(outcome.State.CurrentState))
		s.logg.Info(logCtx, "saga transitioned")

		if outcome.State.CurrentState.IsTerminal() {
			s.metrics.IncTerminal(string(outcome.State.CurrentState))
			return nil
		}
		return s.executeCommands(ctx, outcome.State, outcome.Commands)
	}
	return apperrors.New(apperrors.CodeConflict, fmt.Sprintf("saga %s transition lost %d optimistic races", event.CorrelationID, s.cfg.ConflictRetries))
}

// emitTerminal queues the completion or failure event in the transaction that
// makes the transition durable.
func (s *Service) emitTerminal(ctx context.Context, tx *gorm.DB, state models.SagaState) error {
	correlationID := state.CorrelationID
	switch state.CurrentState {
	case enums.SagaStateCompleted:
		transactionID := ""
		if state.PaymentTransactionID != nil {
			transactionID = *state.PaymentTransactionID
		}
		completedAt := s.now()
		if state.CompletedAt != nil {
			completedAt = *state.CompletedAt
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrderSaga,
			AggregateID:   correlationID,
			CorrelationID: &correlationID,
			Version:       1,
			Data: payloads.OrderCompletedEvent{
				CorrelationID:        correlationID,
				OrderID:              state.OrderID,
				CustomerID:           state.CustomerID,
				TotalAmount:          state.TotalAmount,
				Currency:             state.Currency,
				PaymentTransactionID: transactionID,
				CompletedAt:          completedAt,
			},
		})

	case enums.SagaStateFailed:
		reason := ""
		if state.FailureReason != nil {
			reason = *state.FailureReason
		}
		failedAt := s.now()
		if state.FailedAt != nil {
			failedAt = *state.FailedAt
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrderSaga,
			AggregateID:   correlationID,
			CorrelationID: &correlationID,
			Version:       1,
			Data: payloads.OrderFailedEvent{
				CorrelationID:     correlationID,
				OrderID:           state.OrderID,
				CustomerID:        state.CustomerID,
				FailureReason:     reason,
				InventoryReleased: state.InventoryReleased,
				PaymentRefunded:   state.PaymentRefunded,
				FailedAt:          failedAt,
			},
		})

	default:
		return nil
	}
}

func (s *Service) executeCommands(ctx context.Context, state models.SagaState, commands []CommandType) error {
	for _, cmd := range commands {
		if err := s.executeCommand(ctx, state, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) executeCommand(ctx context.Context, state models.SagaState, cmd CommandType) error {
	started := s.now()
	result, err := s.callActivity(ctx, state, cmd)
	s.metrics.ObserveActivity(string(cmd), s.now().Sub(started))

	if err != nil {
		if apperrors.IsRetryable(err) {
			return s.scheduleRetry(ctx, state, cmd, err.Error())
		}
		return s.handleRejection(ctx, state, cmd, err.Error())
	}
	if !result.Success {
		return s.handleRejection(ctx, state, cmd, result.Reason)
	}
	return s.apply(ctx, successEvent(cmd, state.CorrelationID, result))
}

func (s *Service) callActivity(ctx context.Context, state models.SagaState, cmd CommandType) (activities.Result, error) {
	switch cmd {
	case CommandReserveInventory:
		return s.activities.ReserveInventory(ctx, state)
	case CommandProcessPayment:
		return s.activities.ProcessPayment(ctx, state)
	case CommandReleaseInventory:
		return s.activities.ReleaseInventory(ctx, state)
	case CommandRefundPayment:
		return s.activities.RefundPayment(ctx, state)
	default:
		return activities.Result{}, fmt.Errorf("unknown saga command %q", cmd)
	}
}

// scheduleRetry books the next attempt with exponential backoff. Forward
// commands exhaust the attempt budget and then fail the saga; compensations
// retry until they land.
func (s *Service) scheduleRetry(ctx context.Context, state models.SagaState, cmd CommandType, reason string) error {
	nextCount := state.RetryCount + 1
	if !IsCompensation(cmd) && nextCount > s.cfg.MaxActivityAttempts {
		return s.apply(ctx, failureEvent(cmd, state.CorrelationID, fmt.Sprintf("retry budget exhausted: %s", reason)))
	}

	delay := backoffFor(s.cfg, nextCount)
	s.metrics.IncRetry(string(cmd))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"command":     string(cmd),
		"retry_count": nextCount,
		"retry_in":    delay.String(),
	})
	s.logg.Warn(logCtx, "saga activity failed, retry scheduled")

	return s.repo.ScheduleRetry(ctx, state.CorrelationID, nextCount, s.now().Add(delay))
}

// handleRejection converts a definitive downstream rejection into the matching
// failure event. Compensations have no failure path; a rejected compensation
// is retried like a transient error.
func (s *Service) handleRejection(ctx context.Context, state models.SagaState, cmd CommandType, reason string) error {
	if IsCompensation(cmd) {
		s.logg.Error(ctx, "compensation rejected, will retry", errors.New(reason))
		return s.scheduleRetry(ctx, state, cmd, reason)
	}
	return s.apply(ctx, failureEvent(cmd, state.CorrelationID, reason))
}

// Sweep re-runs sagas whose scheduled retry is due, then picks up stalled
// sagas that have no retry booked at all, and returns how many it resumed.
// The stall scan covers a process that crashed after committing a transition
// but before running its activity; the triggering message is deduplicated or
// a no-op on redelivery, so without the scan those sagas would never move
// again. One failing saga does not stop the batch; errors are collected and
// returned together.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := s.now()
	due, err := s.repo.FindDueRetries(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	resumed := 0
	var errs error
	for _, state := range due {
		claimed, err := s.repo.ClaimRetry(ctx, state.CorrelationID, now)
		if err != nil {
			return resumed, multierr.Append(errs, err)
		}
		if !claimed {
			continue
		}

		resumed++
		sagaCtx := s.logg.WithCorrelationID(ctx, state.CorrelationID.String())
		if err := s.resume(sagaCtx, state); err != nil {
			s.logg.Error(sagaCtx, "saga retry failed", err)
			errs = multierr.Append(errs, fmt.Errorf("saga %s: %w", state.CorrelationID, err))
		}
	}

	cutoff := now.Add(-s.cfg.StuckThreshold)
	stuck, err := s.repo.FindStuck(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return resumed, multierr.Append(errs, err)
	}
	for _, state := range stuck {
		claimed, err := s.repo.ClaimStuck(ctx, state.CorrelationID, cutoff)
		if err != nil {
			return resumed, multierr.Append(errs, err)
		}
		if !claimed {
			continue
		}

		resumed++
		sagaCtx := s.logg.WithCorrelationID(ctx, state.CorrelationID.String())
		s.logg.Warn(s.logg.WithSagaState(sagaCtx, string(state.CurrentState)), "resuming stalled saga")
		if err := s.resume(sagaCtx, state); err != nil {
			s.logg.Error(sagaCtx, "stalled saga resume failed", err)
			errs = multierr.Append(errs, fmt.Errorf("saga %s: %w", state.CorrelationID, err))
		}
	}
	return resumed, errs
}

// resume re-runs the pending side effects for a parked saga. A saga still in
// the created state committed its row but never applied the creation
// transition, so the event is replayed instead.
func (s *Service) resume(ctx context.Context, state models.SagaState) error {
	if state.CurrentState == enums.SagaStateCreated {
		return s.apply(ctx, Event{Type: EventOrderCreationStarted, CorrelationID: state.CorrelationID})
	}
	return s.executeCommands(ctx, state, CommandsForState(state))
}

func successEvent(cmd CommandType, correlationID uuid.UUID, result activities.Result) Event {
	switch cmd {
	case CommandReserveInventory:
		return Event{Type: EventInventoryReserved, CorrelationID: correlationID}
	case CommandProcessPayment:
		return Event{Type: EventPaymentProcessed, CorrelationID: correlationID, TransactionID: result.TransactionID}
	case CommandReleaseInventory:
		return Event{Type: EventInventoryReleased, CorrelationID: correlationID}
	default:
		return Event{Type: EventPaymentRefunded, CorrelationID: correlationID}
	}
}

func failureEvent(cmd CommandType, correlationID uuid.UUID, reason string) Event {
	if cmd == CommandProcessPayment {
		return Event{Type: EventPaymentFailed, CorrelationID: correlationID, Reason: reason}
	}
	return Event{Type: EventInventoryFailed, CorrelationID: correlationID, Reason: reason}
}

func backoffFor(cfg config.SagaConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.RetryBaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.RetryMaxBackoff {
			return cfg.RetryMaxBackoff
		}
	}
	if delay > cfg.RetryMaxBackoff {
		return cfg.RetryMaxBackoff
	}
	return delay
}

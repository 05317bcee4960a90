package saga

import (
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-core/pkg/db/models"
	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

// CommandType names the side effects a transition can request.
type CommandType string

const (
	CommandReserveInventory CommandType = "reserve_inventory"
	CommandProcessPayment   CommandType = "process_payment"
	CommandReleaseInventory CommandType = "release_inventory"
	CommandRefundPayment    CommandType = "refund_payment"
)

// Outcome is the result of applying one event to a saga.
type Outcome struct {
	State    models.SagaState
	Commands []CommandType
	Changed  bool
}

// Transition applies the event to a copy of the state and returns the new
// state plus the commands to execute. Events that do not apply to the current
// state return Changed false, never an error; replays and stale deliveries
// stay harmless. Terminal states absorb everything.
func Transition(state models.SagaState, event Event, now time.Time) (Outcome, error) {
	if state.CurrentState.IsTerminal() {
		return Outcome{State: state}, nil
	}

	switch event.Type {
	case EventOrderCreationStarted:
		if state.CurrentState != enums.SagaStateCreated {
			return Outcome{State: state}, nil
		}
		state.CurrentState = enums.SagaStateInventoryReserving
		return changed(state, CommandReserveInventory), nil

	case EventInventoryReserved:
		if state.CurrentState != enums.SagaStateInventoryReserving {
			return Outcome{State: state}, nil
		}
		state.InventoryReserved = true
		state.CurrentState = enums.SagaStatePaymentProcessing
		return changed(state, CommandProcessPayment), nil

	case EventInventoryFailed:
		if state.CurrentState != enums.SagaStateInventoryReserving {
			return Outcome{State: state}, nil
		}
		// nothing was reserved or charged, so no compensation is needed
		return failed(state, event.Reason, now), nil

	case EventPaymentProcessed:
		if state.CurrentState != enums.SagaStatePaymentProcessing {
			return Outcome{State: state}, nil
		}
		state.PaymentProcessed = true
		if event.TransactionID != "" {
			transactionID := event.TransactionID
			state.PaymentTransactionID = &transactionID
		}
		state.CurrentState = enums.SagaStateCompleted
		completedAt := now
		state.CompletedAt = &completedAt
		return changed(state), nil

	case EventPaymentFailed:
		if state.CurrentState != enums.SagaStatePaymentProcessing {
			return Outcome{State: state}, nil
		}
		return compensateOrFail(state, event.Reason, now), nil

	case EventInventoryReleased:
		if state.CurrentState != enums.SagaStateCompensating {
			return Outcome{State: state}, nil
		}
		state.InventoryReleased = true
		return settleCompensation(state, now), nil

	case EventPaymentRefunded:
		if state.CurrentState != enums.SagaStateCompensating {
			return Outcome{State: state}, nil
		}
		state.PaymentRefunded = true
		return settleCompensation(state, now), nil

	default:
		return Outcome{State: state}, fmt.Errorf("unknown saga event %q", event.Type)
	}
}

// CommandsForState returns the pending side effects for a saga that is parked
// in a non-terminal state, used when resuming after a retry or crash.
func CommandsForState(state models.SagaState) []CommandType {
	switch state.CurrentState {
	case enums.SagaStateInventoryReserving:
		return []CommandType{CommandReserveInventory}
	case enums.SagaStatePaymentProcessing:
		return []CommandType{CommandProcessPayment}
	case enums.SagaStateCompensating:
		return pendingCompensations(state)
	default:
		return nil
	}
}

// IsCompensation reports whether the command undoes earlier work. Compensation
// commands are retried without a budget until they succeed.
func IsCompensation(cmd CommandType) bool {
	return cmd == CommandReleaseInventory || cmd == CommandRefundPayment
}

func changed(state models.SagaState, commands ...CommandType) Outcome {
	state.RetryCount = 0
	state.NextRetryAt = nil
	return Outcome{State: state, Commands: commands, Changed: true}
}

func failed(state models.SagaState, reason string, now time.Time) Outcome {
	if reason != "" {
		state.FailureReason = &reason
	}
	state.CurrentState = enums.SagaStateFailed
	failedAt := now
	state.FailedAt = &failedAt
	return changed(state)
}

func compensateOrFail(state models.SagaState, reason string, now time.Time) Outcome {
	if reason != "" {
		state.FailureReason = &reason
	}
	state.CurrentState = enums.SagaStateCompensating
	pending := pendingCompensations(state)
	if len(pending) == 0 {
		return failed(state, "", now)
	}
	return changed(state, pending...)
}

func settleCompensation(state models.SagaState, now time.Time) Outcome {
	pending := pendingCompensations(state)
	if len(pending) == 0 {
		return failed(state, "", now)
	}
	return changed(state, pending...)
}

// pendingCompensations returns at most one command so each compensation step
// is confirmed by its own transition before the next one runs. The refund is
// always invoked, even when the payment was never captured; the payment
// service treats refunding an uncaptured payment as a successful no-op.
func pendingCompensations(state models.SagaState) []CommandType {
	if state.InventoryReserved && !state.InventoryReleased {
		return []CommandType{CommandReleaseInventory}
	}
	if !state.PaymentRefunded {
		return []CommandType{CommandRefundPayment}
	}
	return nil
}

package enums

import "fmt"

// SagaCurrentState maps to the saga_state_enum in Postgres.
type SagaCurrentState string

const (
	SagaStateCreated            SagaCurrentState = "created"
	SagaStateInventoryReserving SagaCurrentState = "inventory_reserving"
	SagaStateInventoryReserved  SagaCurrentState = "inventory_reserved"
	SagaStatePaymentProcessing  SagaCurrentState = "payment_processing"
	SagaStatePaymentProcessed   SagaCurrentState = "payment_processed"
	SagaStateCompleted          SagaCurrentState = "completed"
	SagaStateCompensating       SagaCurrentState = "compensating"
	SagaStateFailed             SagaCurrentState = "failed"
)

var validSagaStates = []SagaCurrentState{
	SagaStateCreated,
	SagaStateInventoryReserving,
	SagaStateInventoryReserved,
	SagaStatePaymentProcessing,
	SagaStatePaymentProcessed,
	SagaStateCompleted,
	SagaStateCompensating,
	SagaStateFailed,
}

// IsValid reports whether the value matches the canonical saga_state enum.
func (s SagaCurrentState) IsValid() bool {
	for _, candidate := range validSagaStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the saga can no longer transition.
func (s SagaCurrentState) IsTerminal() bool {
	return s == SagaStateCompleted || s == SagaStateFailed
}

// ParseSagaCurrentState converts raw input into SagaCurrentState.
func ParseSagaCurrentState(value string) (SagaCurrentState, error) {
	for _, candidate := range validSagaStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga state %q", value)
}

package swap

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown swap identifier.
	ErrNotFound = errors.New("swap: not found")
	// ErrExpired indicates the swap's timelock elapsed before completion.
	ErrExpired = errors.New("swap: timelock expired")
	// ErrInvalidStep indicates a step index outside the execution plan.
	ErrInvalidStep = errors.New("swap: invalid step index")
	// ErrStepAlreadyCompleted is returned when re-executing a completed step
	// without the force flag.
	ErrStepAlreadyCompleted = errors.New("swap: step already completed")
	// ErrOrderingViolation is returned when a step is executed before its
	// predecessor completed.
	ErrOrderingViolation = errors.New("swap: step ordering violation")
	// ErrPegProtectionTriggered is returned when the peg safety gate refuses
	// creation or continuation of a swap.
	ErrPegProtectionTriggered = errors.New("swap: peg protection triggered")
	// ErrInsufficientSpread is returned when the cross-chain spread does not
	// meet the caller's profitability threshold.
	ErrInsufficientSpread = errors.New("swap: insufficient spread")
	// ErrPriceUnavailable is returned when price sources cannot produce a
	// usable quote. The gate fails closed rather than guessing.
	ErrPriceUnavailable = errors.New("swap: price unavailable")
	// ErrInsufficientEntropy is returned when the secure random source fails.
	// Commitment generation never falls back to a weaker source.
	ErrInsufficientEntropy = errors.New("swap: insufficient entropy")
	// ErrTerminal indicates an attempted mutation of a terminal swap.
	ErrTerminal = errors.New("swap: status is terminal")
	// ErrNotRefundable indicates the swap does not satisfy the refund
	// preconditions.
	ErrNotRefundable = errors.New("swap: not eligible for refund")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("swap: invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

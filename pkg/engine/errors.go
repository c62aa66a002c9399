package engine

import (
	"fmt"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
	"github.com/pkg/errors"
)

// Precondition failures. These propagate as typed errors and leave no audit
// trail: the action or transition never ran, so there is nothing to log.
var (
	// ErrAlreadyCompleted is returned when starting a step that has already
	// completed.
	ErrAlreadyCompleted = errors.New("step already completed")
	// ErrAlreadyStarted is returned when a concurrent caller already flipped
	// the step to in_progress.
	ErrAlreadyStarted = errors.New("step already in progress")
	// ErrOrderClosed is returned when the parent order is COMPLETED or
	// CANCELLED.
	ErrOrderClosed = errors.New("order is closed")
	// ErrNotRunning is returned when executing or completing a step that is
	// not currently in_progress.
	ErrNotRunning = errors.New("step is not in progress")
	// ErrMismatchedAction is returned when the action does not belong to the
	// step named in the execution context.
	ErrMismatchedAction = errors.New("action does not belong to step")
)

// InvalidTransitionError names the rejected order-status edge.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// SequenceViolationError is returned when a step is started while an
// earlier-sequence step of the same order is still incomplete.
type SequenceViolationError struct {
	OrderID          int64
	StepSequence     int
	BlockingSequence int
}

func (e *SequenceViolationError) Error() string {
	return fmt.Sprintf("cannot start step with sequence %d of order %d: step with sequence %d is not completed",
		e.StepSequence, e.OrderID, e.BlockingSequence)
}

// IsPrecondition reports whether err belongs to the precondition/validation
// class that callers should surface as a client error.
func IsPrecondition(err error) bool {
	var it *InvalidTransitionError
	var sv *SequenceViolationError
	return errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrOrderClosed) ||
		errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrMismatchedAction) ||
		errors.As(err, &it) ||
		errors.As(err, &sv)
}

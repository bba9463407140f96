/*
saga.go - Multi-step writes with compensating actions

PURPOSE:
  Some writes span tables that cannot share a transaction. A Saga runs its
  steps in order; when a step fails, the compensations of the steps that
  already succeeded run in reverse order.

FAILURE SEMANTICS:
  - Step fails, compensations succeed: SagaError wraps the step error.
    errors.As still finds a *RuleError from the failing step.
  - A compensation also fails: SagaError.Fatal() is true and the error
    matches ErrCompensationFailed. No automatic recovery is attempted;
    the caller must log enough context to reconcile by hand.

EXAMPLE:
  saga := generic.Saga{Name: "claim", Steps: []generic.SagaStep{
      {Name: "insert_redemption", Do: insert, Compensate: deleteRedemption},
      {Name: "create_boost", Do: createBoost},
  }}
  err := saga.Run(ctx)
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SagaStep is one forward action and its optional undo.
type SagaStep struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga is an ordered list of steps.
type Saga struct {
	Name  string
	Steps []SagaStep
}

// CompensationFailure records an undo that did not complete.
type CompensationFailure struct {
	Step string
	Err  error
}

// SagaError is returned when any step fails.
type SagaError struct {
	Saga          string
	FailedStep    string
	Err           error
	Compensations []CompensationFailure
}

func (e *SagaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "saga %s: step %s failed: %v", e.Saga, e.FailedStep, e.Err)
	for _, c := range e.Compensations {
		fmt.Fprintf(&b, "; compensation %s failed: %v", c.Step, c.Err)
	}
	return b.String()
}

// Unwrap exposes the step error and, when rollback failed, ErrCompensationFailed.
func (e *SagaError) Unwrap() []error {
	errs := []error{e.Err}
	if e.Fatal() {
		errs = append(errs, ErrCompensationFailed)
	}
	return errs
}

// Fatal reports whether any compensation failed.
func (e *SagaError) Fatal() bool { return len(e.Compensations) > 0 }

// Run executes the saga. Compensation runs on a context detached from ctx's
// cancellation so a cancelled request still rolls back.
func (s Saga) Run(ctx context.Context) error {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return s.rollback(ctx, i, step.Name, err)
		}
		if err := step.Do(ctx); err != nil {
			return s.rollback(ctx, i, step.Name, err)
		}
	}
	return nil
}

func (s Saga) rollback(ctx context.Context, failed int, name string, cause error) error {
	sagaErr := &SagaError{Saga: s.Name, FailedStep: name, Err: cause}
	undoCtx := context.WithoutCancel(ctx)
	for i := failed - 1; i >= 0; i-- {
		step := s.Steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(undoCtx); err != nil {
			sagaErr.Compensations = append(sagaErr.Compensations, CompensationFailure{Step: step.Name, Err: err})
		}
	}
	return sagaErr
}

// IsFatalSaga reports whether err is a saga whose rollback failed.
func IsFatalSaga(err error) bool {
	var se *SagaError
	return errors.As(err, &se) && se.Fatal()
}

package harness

import (
	"github.com/roach88/stacksync/internal/engine"
	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool

	// Err is the error returned by the driver, nil on success.
	Err error

	// Driver is the driver's result.
	Driver engine.Result

	// Trace contains every destination apply call in order.
	Trace []testutil.ApplyCall

	// StatusLog contains every destination status change in order.
	StatusLog []model.StatusState

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string

	// Source and Destination are the stacks after the run.
	Source      *testutil.MemStack
	Destination *testutil.MemStack
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcome returns OutcomeSuccess or OutcomeFailure.
func (r *Result) Outcome() string {
	if r.Err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

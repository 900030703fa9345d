package mpc

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/mpc/nlp"
)

// FailureReason classifies why a solve produced no actuation.
type FailureReason int

// Failure reasons.
const (
	// InvalidInput means a state, polynomial or weight was malformed; the solver never ran.
	InvalidInput FailureReason = iota + 1
	// NonConvergence means the solver hit its iteration or time cap, or was cancelled.
	NonConvergence
	// Infeasible means no plan satisfies the dynamics and bounds within tolerance.
	Infeasible
)

func (r FailureReason) String() string {
	switch r {
	case InvalidInput:
		return "invalid input"
	case NonConvergence:
		return "non-convergence"
	case Infeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("FailureReason(%d)", int(r))
	}
}

// SolveFailure is the error returned by a failed solve. Callers decide how to act on it, e.g. by
// holding the previous command or braking; the controller never substitutes an actuation.
type SolveFailure struct {
	Reason FailureReason
	Err    error
}

func (f *SolveFailure) Error() string {
	return fmt.Sprintf("mpc solve failed (%s): %v", f.Reason, f.Err)
}

func (f *SolveFailure) Unwrap() error {
	return f.Err
}

// ReasonOf returns the FailureReason carried by err, if err is or wraps a *SolveFailure.
func ReasonOf(err error) (FailureReason, bool) {
	var failure *SolveFailure
	if errors.As(err, &failure) {
		return failure.Reason, true
	}
	return 0, false
}

func newInvalidInput(err error) *SolveFailure {
	return &SolveFailure{Reason: InvalidInput, Err: err}
}

// classifySolverError maps solver errors onto failure reasons. Anything unrecognized counts as a
// failure to converge.
func classifySolverError(err error) *SolveFailure {
	switch {
	case errors.Is(err, nlp.ErrInvalidProblem):
		return &SolveFailure{Reason: InvalidInput, Err: err}
	case errors.Is(err, nlp.ErrInfeasible):
		return &SolveFailure{Reason: Infeasible, Err: err}
	default:
		return &SolveFailure{Reason: NonConvergence, Err: err}
	}
}

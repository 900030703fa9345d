// Package nlp solves the smooth, bound- and equality-constrained nonlinear programs built by the
// controller. Solvers are interchangeable behind the Solver interface so the problem construction
// can be tested independently of the algorithm.
package nlp

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mpc/referenceframe"
	"go.viam.com/mpc/utils"
)

var (
	// ErrNonConvergence is returned when the iteration or time cap is reached before the
	// tolerance is met.
	ErrNonConvergence = errors.New("solver did not converge")
	// ErrInfeasible is returned when no point satisfying the constraints within tolerance was
	// found, or the variable limits are contradictory.
	ErrInfeasible = errors.New("problem is infeasible")
	// ErrInvalidProblem is returned for malformed problems, e.g. a seed of the wrong length.
	ErrInvalidProblem = errors.New("invalid problem")
)

const (
	defaultMaxIterations = 5000
	defaultTolerance     = 1e-6
)

// VectorFunc writes the value of a vector-valued function of x into out.
type VectorFunc func(out, x []float64)

// Problem is minimize Objective(x) subject to Equality(x) = 0, Inequality(x) <= 0 and
// Limits[i].Min <= x[i] <= Limits[i].Max. The dimension of the problem is len(Limits).
//
// The derivative fields are optional. Solvers fall back to central finite differences for any
// that are nil.
type Problem struct {
	Objective func(x []float64) float64
	// Gradient writes the gradient of Objective at x into grad.
	Gradient func(grad, x []float64)

	Equality    VectorFunc
	NumEquality int
	// EqualityJacobian writes the NumEquality x Dim Jacobian of Equality at x into jac, which is
	// zeroed before each call.
	EqualityJacobian func(jac *mat.Dense, x []float64)

	// Complete overwrites the Dependent variables of x, one per equality row, so that
	// Equality(x) = 0 for the values of the others. The Jacobian of Equality with respect to the
	// Dependent variables must be nonsingular. Solvers that can use it search only over the
	// remaining variables.
	Complete  func(x []float64)
	Dependent []int

	Inequality    VectorFunc
	NumInequality int

	Limits []referenceframe.Limit
}

// Dim returns the number of decision variables.
func (p *Problem) Dim() int {
	return len(p.Limits)
}

// Validate checks the problem shape, the limits and the seed. Empty or NaN limits wrap
// ErrInfeasible, everything else wraps ErrInvalidProblem.
func (p *Problem) Validate(seed []float64) error {
	if p.Objective == nil {
		return errors.Wrap(ErrInvalidProblem, "objective is nil")
	}
	if p.Dim() == 0 {
		return errors.Wrap(ErrInvalidProblem, "problem has no variables")
	}
	if (p.NumEquality > 0) != (p.Equality != nil) {
		return errors.Wrap(ErrInvalidProblem, "equality function and count disagree")
	}
	if (p.NumInequality > 0) != (p.Inequality != nil) {
		return errors.Wrap(ErrInvalidProblem, "inequality function and count disagree")
	}
	if p.EqualityJacobian != nil && p.NumEquality == 0 {
		return errors.Wrap(ErrInvalidProblem, "equality jacobian without equality constraints")
	}
	if err := p.validateDependent(); err != nil {
		return err
	}
	if len(seed) != p.Dim() {
		return errors.Wrap(ErrInvalidProblem, utils.NewIncorrectLengthError("seed", len(seed), p.Dim()).Error())
	}
	if idx := utils.FirstNonFinite(seed); idx >= 0 {
		return errors.Wrap(ErrInvalidProblem, utils.NewNonFiniteError("seed", idx, seed[idx]).Error())
	}
	for i, limit := range p.Limits {
		if err := limit.Validate(); err != nil {
			return errors.Wrapf(ErrInfeasible, "variable %d: %v", i, err)
		}
	}
	return nil
}

func (p *Problem) validateDependent() error {
	if p.Complete == nil {
		if len(p.Dependent) > 0 {
			return errors.Wrap(ErrInvalidProblem, "dependent variables without a completion")
		}
		return nil
	}
	if len(p.Dependent) != p.NumEquality {
		return errors.Wrap(ErrInvalidProblem,
			utils.NewIncorrectLengthError("dependent variables", len(p.Dependent), p.NumEquality).Error())
	}
	seen := make(map[int]bool, len(p.Dependent))
	for _, i := range p.Dependent {
		if i < 0 || i >= p.Dim() || seen[i] {
			return errors.Wrapf(ErrInvalidProblem, "bad dependent variable %d", i)
		}
		seen[i] = true
	}
	return nil
}

// checkObjective rejects a starting point where the objective is not finite.
func (p *Problem) checkObjective(x []float64) error {
	if f := p.Objective(x); !utils.IsFinite(f) {
		return errors.Wrapf(ErrInvalidProblem, "objective is %v at the starting point", f)
	}
	return nil
}

// Violation returns the largest constraint violation at x: the maximum of |h_i(x)|, max(g_j(x), 0)
// and the distance of any variable outside its limit. NaN constraint values count as infinite.
func (p *Problem) Violation(x []float64) float64 {
	worst := p.equalityViolation(x)
	consider := func(v float64) {
		if math.IsNaN(v) {
			v = math.Inf(1)
		}
		worst = math.Max(worst, v)
	}
	if p.NumInequality > 0 {
		g := make([]float64, p.NumInequality)
		p.Inequality(g, x)
		for _, v := range g {
			consider(v)
		}
	}
	for i, limit := range p.Limits {
		consider(limit.Min - x[i])
		consider(x[i] - limit.Max)
	}
	return worst
}

// equalityViolation is the largest |h_i(x)|.
func (p *Problem) equalityViolation(x []float64) float64 {
	worst := 0.
	if p.NumEquality == 0 {
		return worst
	}
	h := make([]float64, p.NumEquality)
	p.Equality(h, x)
	for _, v := range h {
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		worst = math.Max(worst, math.Abs(v))
	}
	return worst
}

// Solution is a locally optimal point of a Problem.
type Solution struct {
	X           []float64
	Cost        float64
	Violation   float64
	Iterations  int
	Evaluations int
}

// Settings bound the work a solver may do.
type Settings struct {
	// MaxIterations caps the number of major iterations (objective evaluations for nlopt).
	MaxIterations int
	// Tolerance is the largest acceptable constraint violation, and the gradient/step tolerance
	// used for convergence.
	Tolerance float64
	// MaxTime caps the wall time of one Solve; zero means no cap.
	MaxTime time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MaxIterations < 1 {
		s.MaxIterations = defaultMaxIterations
	}
	if !(s.Tolerance > 0) {
		s.Tolerance = defaultTolerance
	}
	return s
}

// A Solver finds a local minimum of a Problem starting from seed. Implementations return errors
// wrapping ErrNonConvergence or ErrInfeasible rather than a partial answer.
type Solver interface {
	Solve(ctx context.Context, problem *Problem, seed []float64) (*Solution, error)
}

// projectSeed moves every seed value inside its limit. Only the starting point is projected; the
// returned solution is never clamped.
func projectSeed(seed []float64, limits []referenceframe.Limit) []float64 {
	x := make([]float64, len(seed))
	for i, v := range seed {
		x[i] = math.Min(math.Max(v, limits[i].Min), limits[i].Max)
	}
	return x
}

//go:build !windows && !no_cgo

package nlp

import (
	"context"
	"sync"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/referenceframe"
	rutils "go.viam.com/mpc/utils"
)

// Nlopt solves problems with the SLSQP algorithm from the nlopt C library over the full decision
// vector. Gradients and constraint Jacobians the problem does not supply are computed by central
// finite differences.
type Nlopt struct {
	settings Settings
	logger   logging.Logger
}

// NewNlopt returns an SLSQP solver. Zero settings fall back to defaults.
func NewNlopt(settings Settings, logger logging.Logger) (*Nlopt, error) {
	return &Nlopt{settings: settings.withDefaults(), logger: logger}, nil
}

type optimizeReturn struct {
	solution []float64
	score    float64
	err      error
}

// stopStatuses are the nlopt results that mean a cap was hit rather than a tolerance met.
var stopStatuses = map[string]bool{
	"MAXEVAL_REACHED": true,
	"MAXTIME_REACHED": true,
}

func jacobianFunc(f VectorFunc, m int, analytic func(jac *mat.Dense, x []float64)) nlopt.Mfunc {
	settings := &fd.JacobianSettings{Formula: fd.Central, Step: gradientStep}
	return func(result, x, gradient []float64) {
		f(result, x)
		if len(gradient) == 0 {
			return
		}
		// nlopt wants the m x n Jacobian row major, which is exactly a mat.Dense over the same
		// memory.
		jac := mat.NewDense(m, len(x), gradient)
		if analytic == nil {
			fd.Jacobian(jac, f, x, settings)
			return
		}
		jac.Zero()
		analytic(jac, x)
	}
}

// Solve implements Solver.
func (n *Nlopt) Solve(ctx context.Context, problem *Problem, seed []float64) (*Solution, error) {
	if err := problem.Validate(seed); err != nil {
		return nil, err
	}
	x0 := projectSeed(seed, problem.Limits)
	if err := problem.checkObjective(x0); err != nil {
		return nil, err
	}
	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(problem.Dim()))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	evaluations := 0
	gradSettings := &fd.Settings{Formula: fd.Central, Step: gradientStep}
	// x is our set of inputs
	// Gradient is, under the hood, a unsafe C structure that we are meant to mutate in place.
	nloptMinFunc := func(x, gradient []float64) float64 {
		evaluations++
		switch {
		case len(gradient) == 0:
		case problem.Gradient != nil:
			problem.Gradient(gradient, x)
		default:
			fd.Gradient(gradient, problem.Objective, x, gradSettings)
		}
		return problem.Objective(x)
	}

	lower, upper := referenceframe.LimitsToArrays(problem.Limits)
	err = multierr.Combine(
		opt.SetLowerBounds(lower),
		opt.SetUpperBounds(upper),
		opt.SetFtolRel(n.settings.Tolerance*n.settings.Tolerance),
		opt.SetXtolRel(n.settings.Tolerance),
		opt.SetMaxEval(n.settings.MaxIterations),
		opt.SetMinObjective(nloptMinFunc),
	)
	if problem.NumEquality > 0 {
		err = multierr.Combine(err, opt.AddEqualityMConstraint(
			jacobianFunc(problem.Equality, problem.NumEquality, problem.EqualityJacobian), tolerances(problem.NumEquality, n.settings.Tolerance)))
	}
	if problem.NumInequality > 0 {
		err = multierr.Combine(err, opt.AddInequalityMConstraint(
			jacobianFunc(problem.Inequality, problem.NumInequality, nil), tolerances(problem.NumInequality, n.settings.Tolerance)))
	}
	if n.settings.MaxTime > 0 {
		err = multierr.Combine(err, opt.SetMaxTime(n.settings.MaxTime.Seconds()))
	}
	if err != nil {
		return nil, errors.Wrap(err, "nlopt configuration error")
	}

	var activeSolvers sync.WaitGroup
	solveChan := make(chan *optimizeReturn, 1)
	activeSolvers.Add(1)
	utils.PanicCapturingGo(func() {
		defer activeSolvers.Done()
		solutionRaw, result, nloptErr := opt.Optimize(x0)
		solveChan <- &optimizeReturn{solutionRaw, result, nloptErr}
	})

	var ret *optimizeReturn
	select {
	case <-ctx.Done():
		err = multierr.Combine(ErrNonConvergence, ctx.Err(), opt.ForceStop())
		activeSolvers.Wait()
		return nil, err
	case ret = <-solveChan:
	}
	if ret.err != nil {
		return nil, multierr.Combine(ErrNonConvergence, errors.Wrap(ret.err, "nlopt optimize"))
	}
	if ret.solution == nil {
		return nil, errors.Wrap(ErrNonConvergence, "nlopt returned no solution")
	}

	status := opt.LastStatus()
	violation := problem.Violation(ret.solution)
	n.logger.Debugw("nlopt finished",
		"status", status, "evaluations", evaluations, "cost", ret.score, "violation", violation)
	// Optimize reports a hit cap as success, with the best point so far
	if stopStatuses[status] {
		return nil, errors.Wrapf(ErrNonConvergence, "nlopt stopped with %s after %d evaluations, violation %g",
			status, evaluations, violation)
	}
	if !rutils.IsFinite(ret.score) {
		return nil, errors.Wrapf(ErrNonConvergence, "objective is %v at the solution", ret.score)
	}
	if violation > n.settings.Tolerance {
		if evaluations >= n.settings.MaxIterations {
			return nil, errors.Wrapf(ErrNonConvergence, "reached %d evaluations with violation %g",
				n.settings.MaxIterations, violation)
		}
		return nil, errors.Wrapf(ErrInfeasible, "constraint violation %g", violation)
	}
	return &Solution{
		X:           ret.solution,
		Cost:        ret.score,
		Violation:   violation,
		Iterations:  evaluations,
		Evaluations: evaluations,
	}, nil
}

func tolerances(m int, tol float64) []float64 {
	tols := make([]float64, m)
	for i := range tols {
		tols[i] = tol
	}
	return tols
}

package nlp

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/utils"
)

const (
	initialPenalty  = 10.
	penaltyGrowth   = 10.
	maxPenalty      = 1e10
	maxOuterRounds  = 60
	sufficientDrop  = 0.25
	gradientStep    = 1e-6
	stallIterations = 50
)

// AugLag is a pure Go augmented Lagrangian solver. Bounds are removed by reparameterization,
// equality and inequality constraints are folded into the Powell-Hestenes-Rockafellar merit
// function and each subproblem is minimized with L-BFGS. Gradients are analytic when the problem
// supplies them and central finite differences otherwise.
//
// When the problem has a Complete function the dependent variables are dropped from the search:
// every point is completed so the equality constraints hold, and the analytic gradient is the
// reduced gradient through the equality Jacobian.
type AugLag struct {
	settings Settings
	logger   logging.Logger
}

// NewAugLag returns an augmented Lagrangian solver. Zero settings fall back to defaults.
func NewAugLag(settings Settings, logger logging.Logger) *AugLag {
	return &AugLag{settings: settings.withDefaults(), logger: logger}
}

// Settings returns the effective settings.
func (al *AugLag) Settings() Settings {
	return al.settings
}

// merit holds the multiplier state of one solve and evaluates the augmented Lagrangian in the
// reparameterized coordinates.
type merit struct {
	problem  *Problem
	bounds   *boundMap
	reduced  bool
	analytic bool

	mu     float64
	lambda []float64
	nu     []float64

	x, h, g []float64
	gradX   []float64
	jac     *mat.Dense
	jacDep  *mat.Dense
	evals   int

	// singular is set once the dependent block of the Jacobian could not be inverted
	singular bool
}

func newMerit(problem *Problem, bounds *boundMap) *merit {
	analytic := problem.Gradient != nil && problem.NumInequality == 0 &&
		(problem.NumEquality == 0 || problem.EqualityJacobian != nil)
	m := &merit{
		problem:  problem,
		bounds:   bounds,
		reduced:  problem.Complete != nil,
		analytic: analytic,
		mu:       initialPenalty,
		lambda:   make([]float64, problem.NumEquality),
		nu:       make([]float64, problem.NumInequality),
		x:        make([]float64, problem.Dim()),
		h:        make([]float64, problem.NumEquality),
		g:        make([]float64, problem.NumInequality),
	}
	if m.analytic {
		m.gradX = make([]float64, problem.Dim())
		if problem.NumEquality > 0 {
			m.jac = mat.NewDense(problem.NumEquality, problem.Dim(), nil)
			if m.reduced {
				m.jacDep = mat.NewDense(problem.NumEquality, problem.NumEquality, nil)
			}
		}
	}
	return m
}

// point maps z to the problem space, completing the dependent variables when there are any. The
// returned slice is reused by the next call.
func (m *merit) point(z []float64) []float64 {
	m.bounds.toX(m.x, z)
	if m.reduced {
		m.problem.Complete(m.x)
	}
	return m.x
}

func (m *merit) value(z []float64) float64 {
	m.evals++
	m.point(z)
	f := m.problem.Objective(m.x)
	if m.problem.NumEquality > 0 && !m.reduced {
		m.problem.Equality(m.h, m.x)
		for i, h := range m.h {
			f += m.lambda[i]*h + 0.5*m.mu*h*h
		}
	}
	if m.problem.NumInequality > 0 {
		m.problem.Inequality(m.g, m.x)
		for j, g := range m.g {
			s := math.Max(0, m.nu[j]+m.mu*g)
			f += (s*s - m.nu[j]*m.nu[j]) / (2 * m.mu)
		}
	}
	return f
}

func (m *merit) gradient(grad, z []float64) {
	if !m.analytic {
		fd.Gradient(grad, m.value, z, &fd.Settings{Formula: fd.Central, Step: gradientStep})
		return
	}
	m.point(z)
	m.problem.Gradient(m.gradX, m.x)
	if m.problem.NumEquality > 0 {
		m.jac.Zero()
		m.problem.EqualityJacobian(m.jac, m.x)
		if m.reduced {
			if !m.reduce() {
				m.singular = true
				for k := range grad {
					grad[k] = math.NaN()
				}
				return
			}
		} else {
			m.problem.Equality(m.h, m.x)
			for i, h := range m.h {
				m.h[i] = m.lambda[i] + m.mu*h
			}
			m.addJacobianTransposed(mat.NewVecDense(len(m.h), m.h), 1)
		}
	}
	m.bounds.chain(grad, m.gradX, z)
}

// reduce turns gradX into the reduced gradient: moving an independent variable moves the
// dependent ones along the constraint surface, at the rate given by the implicit function
// theorem. It reports false when the dependent block of the Jacobian is singular.
func (m *merit) reduce() bool {
	dependent := m.problem.Dependent
	gradDep := mat.NewVecDense(len(dependent), nil)
	for c, i := range dependent {
		gradDep.SetVec(c, m.gradX[i])
		for r := 0; r < len(dependent); r++ {
			m.jacDep.Set(r, c, m.jac.At(r, i))
		}
	}
	var w mat.VecDense
	if err := w.SolveVec(m.jacDep.T(), gradDep); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return false
		}
	}
	m.addJacobianTransposed(&w, -1)
	return true
}

// addJacobianTransposed adds alpha * J^T y to gradX.
func (m *merit) addJacobianTransposed(y mat.Vector, alpha float64) {
	var jty mat.VecDense
	jty.MulVec(m.jac.T(), y)
	floats.AddScaled(m.gradX, alpha, jty.RawVector().Data)
}

// updateMultipliers applies the first order multiplier update at the current x. Completed
// equalities hold exactly and keep zero multipliers.
func (m *merit) updateMultipliers() {
	if m.problem.NumEquality > 0 && !m.reduced {
		m.problem.Equality(m.h, m.x)
		floats.AddScaled(m.lambda, m.mu, m.h)
	}
	if m.problem.NumInequality > 0 {
		m.problem.Inequality(m.g, m.x)
		for j, g := range m.g {
			m.nu[j] = math.Max(0, m.nu[j]+m.mu*g)
		}
	}
}

// Solve implements Solver.
func (al *AugLag) Solve(ctx context.Context, problem *Problem, seed []float64) (*Solution, error) {
	if err := problem.Validate(seed); err != nil {
		return nil, err
	}
	start := time.Now()
	bounds := newBoundMap(problem.Limits, problem.Dependent)
	m := newMerit(problem, bounds)
	z := bounds.toZ(projectSeed(seed, problem.Limits))
	if err := problem.checkObjective(m.point(z)); err != nil {
		return nil, err
	}

	solution := func(iterations int) (*Solution, error) {
		x := append([]float64(nil), m.point(z)...)
		sol := &Solution{
			X:           x,
			Cost:        problem.Objective(x),
			Violation:   problem.Violation(x),
			Iterations:  iterations,
			Evaluations: m.evals,
		}
		if !utils.IsFinite(sol.Cost) {
			return nil, errors.Wrapf(ErrNonConvergence, "objective is %v at the solution", sol.Cost)
		}
		return sol, nil
	}

	if bounds.dim() == 0 {
		// Every searched variable is fixed, there is nothing to optimize.
		sol, err := solution(0)
		if err != nil {
			return nil, err
		}
		if sol.Violation > al.settings.Tolerance {
			return nil, errors.Wrapf(ErrInfeasible, "fixed point violates constraints by %g", sol.Violation)
		}
		return sol, nil
	}

	iterations := 0
	prevViolation := math.Inf(1)
	for round := 0; round < maxOuterRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, multierr.Combine(ErrNonConvergence, err)
		}
		remaining := al.settings.MaxIterations - iterations
		if remaining <= 0 {
			break
		}
		settings := &optimize.Settings{
			GradientThreshold: al.settings.Tolerance,
			MajorIterations:   remaining,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Relative:   1e-14,
				Iterations: stallIterations,
			},
		}
		if al.settings.MaxTime > 0 {
			left := al.settings.MaxTime - time.Since(start)
			if left <= 0 {
				return nil, errors.Wrapf(ErrNonConvergence, "exceeded max solve time of %v", al.settings.MaxTime)
			}
			settings.Runtime = left
		}

		result, err := optimize.Minimize(optimize.Problem{Func: m.value, Grad: m.gradient}, z, settings, &optimize.LBFGS{})
		if result == nil {
			return nil, multierr.Combine(ErrNonConvergence, errors.Wrap(err, "inner minimization failed"))
		}
		// A line search failure leaves the best point found so far in result, which is still the
		// right place to update the multipliers from.
		if err != nil {
			al.logger.Debugw("inner minimization stopped early", "round", round, "error", err)
		}
		if m.singular {
			return nil, errors.Wrap(ErrNonConvergence, "equality jacobian is singular in the dependent variables")
		}
		if floats.HasNaN(result.X) || math.IsNaN(result.F) {
			return nil, errors.Wrap(ErrNonConvergence, "inner minimization produced NaN")
		}
		copy(z, result.X)
		iterations += result.MajorIterations
		violation := problem.Violation(m.point(z))

		al.logger.Debugw("augmented lagrangian round",
			"round", round,
			"status", result.Status.String(),
			"iterations", result.MajorIterations,
			"violation", violation,
			"penalty", m.mu,
		)

		switch result.Status {
		case optimize.RuntimeLimit:
			return nil, errors.Wrapf(ErrNonConvergence, "exceeded max solve time of %v", al.settings.MaxTime)
		case optimize.IterationLimit:
			return nil, errors.Wrapf(ErrNonConvergence, "reached %d iterations with violation %g",
				al.settings.MaxIterations, violation)
		default:
		}

		if violation <= al.settings.Tolerance {
			return solution(iterations)
		}
		if m.reduced && problem.NumInequality == 0 {
			// nothing left for the penalties to move
			return nil, errors.Wrapf(ErrInfeasible, "completed point violates constraints by %g", violation)
		}

		m.updateMultipliers()
		if violation > sufficientDrop*prevViolation {
			m.mu *= penaltyGrowth
		}
		if m.mu > maxPenalty {
			return nil, errors.Wrapf(ErrInfeasible, "constraint violation stuck at %g", violation)
		}
		prevViolation = violation
	}
	return nil, errors.Wrapf(ErrNonConvergence, "no convergence after %d iterations", iterations)
}

package nlp

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/referenceframe"
)

func unboundedLimits(n int) []referenceframe.Limit {
	limits := make([]referenceframe.Limit, n)
	for i := range limits {
		limits[i] = referenceframe.Unbounded()
	}
	return limits
}

func TestAugLagUnconstrained(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 {
			return (x[0]-1)*(x[0]-1) + (x[1]+2)*(x[1]+2)
		},
		Limits: unboundedLimits(2),
	}
	sol, err := solver.Solve(context.Background(), problem, []float64{0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldAlmostEqual, 1, 1e-5)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, -2, 1e-5)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, sol.Evaluations, test.ShouldBeGreaterThan, 0)
}

func TestAugLagEquality(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 { return x[0]*x[0] + x[1]*x[1] },
		Equality: func(out, x []float64) {
			out[0] = x[0] + x[1] - 1
		},
		NumEquality: 1,
		Limits:      unboundedLimits(2),
	}
	sol, err := solver.Solve(context.Background(), problem, []float64{3, -1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldAlmostEqual, 0.5, 1e-4)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, 0.5, 1e-4)
	test.That(t, sol.Violation, test.ShouldBeLessThanOrEqualTo, 1e-6)
}

func TestAugLagInequality(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 { return (x[0]-2)*(x[0]-2) + (x[1]-2)*(x[1]-2) },
		Inequality: func(out, x []float64) {
			out[0] = x[0] + x[1] - 2
		},
		NumInequality: 1,
		Limits:        unboundedLimits(2),
	}
	sol, err := solver.Solve(context.Background(), problem, []float64{0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, sol.X[0]+sol.X[1]-2, test.ShouldBeLessThanOrEqualTo, 1e-6)
}

func TestAugLagBounds(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 {
			return (x[0]-3)*(x[0]-3) + (x[1]-x[0])*(x[1]-x[0]) + (x[2]+5)*(x[2]+5) + (x[3]-4)*(x[3]-4)
		},
		Limits: []referenceframe.Limit{
			{Min: -1, Max: 1},
			referenceframe.Unbounded(),
			{Min: -2, Max: math.Inf(1)},
			{Min: math.Inf(-1), Max: 3},
		},
	}
	sol, err := solver.Solve(context.Background(), problem, []float64{0, 0, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, 1, 1e-4)
	test.That(t, sol.X[2], test.ShouldAlmostEqual, -2, 1e-6)
	test.That(t, sol.X[3], test.ShouldAlmostEqual, 3, 1e-6)
	test.That(t, referenceframe.CheckInputs(sol.X, problem.Limits), test.ShouldBeNil)
}

func TestAugLagFixedVariable(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 { return (x[0]-3)*(x[0]-3) + (x[1]-x[0])*(x[1]-x[0]) },
		Limits:    []referenceframe.Limit{referenceframe.Fixed(2), referenceframe.Unbounded()},
	}
	sol, err := solver.Solve(context.Background(), problem, []float64{0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.X[0], test.ShouldEqual, 2.)
	test.That(t, sol.X[1], test.ShouldAlmostEqual, 2, 1e-5)

	t.Run("all fixed", func(t *testing.T) {
		problem := &Problem{
			Objective:   func(x []float64) float64 { return x[0] },
			Equality:    func(out, x []float64) { out[0] = x[0] - 1 },
			NumEquality: 1,
			Limits:      []referenceframe.Limit{referenceframe.Fixed(1)},
		}
		sol, err := solver.Solve(context.Background(), problem, []float64{0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.X, test.ShouldResemble, []float64{1})

		problem.Limits = []referenceframe.Limit{referenceframe.Fixed(2)}
		_, err = solver.Solve(context.Background(), problem, []float64{0})
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})
}

func TestAugLagDeterministic(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 {
			return 100*(x[1]-x[0]*x[0])*(x[1]-x[0]*x[0]) + (1-x[0])*(1-x[0])
		},
		Equality:    func(out, x []float64) { out[0] = x[0] - x[2] },
		NumEquality: 1,
		Limits:      []referenceframe.Limit{{Min: -2, Max: 2}, referenceframe.Unbounded(), referenceframe.Unbounded()},
	}
	first, err := solver.Solve(context.Background(), problem, []float64{-1.2, 1, 0})
	test.That(t, err, test.ShouldBeNil)
	second, err := solver.Solve(context.Background(), problem, []float64{-1.2, 1, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.X, test.ShouldResemble, first.X)
	test.That(t, first.X[0], test.ShouldAlmostEqual, 1, 1e-3)
}

func TestAugLagInfeasible(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))

	t.Run("contradictory constraints", func(t *testing.T) {
		problem := &Problem{
			Objective: func(x []float64) float64 { return 0 },
			Equality: func(out, x []float64) {
				out[0] = x[0] - 1
				out[1] = x[0] - 2
			},
			NumEquality: 2,
			Limits:      unboundedLimits(1),
		}
		_, err := solver.Solve(context.Background(), problem, []float64{0})
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})

	t.Run("empty limit", func(t *testing.T) {
		problem := &Problem{
			Objective: func(x []float64) float64 { return x[0] },
			Limits:    []referenceframe.Limit{{Min: 1, Max: -1}},
		}
		_, err := solver.Solve(context.Background(), problem, []float64{0})
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})
}

func TestAugLagNonConvergence(t *testing.T) {
	solver := NewAugLag(Settings{MaxIterations: 2}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective: func(x []float64) float64 {
			return 100*(x[1]-x[0]*x[0])*(x[1]-x[0]*x[0]) + (1-x[0])*(1-x[0])
		},
		Limits: unboundedLimits(2),
	}
	_, err := solver.Solve(context.Background(), problem, []float64{-1.2, 1})
	test.That(t, errors.Is(err, ErrNonConvergence), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeFalse)
}

func TestAugLagCanceled(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	problem := &Problem{
		Objective: func(x []float64) float64 { return x[0] * x[0] },
		Limits:    unboundedLimits(1),
	}
	_, err := solver.Solve(ctx, problem, []float64{1})
	test.That(t, errors.Is(err, ErrNonConvergence), test.ShouldBeTrue)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestProblemValidate(t *testing.T) {
	problem := &Problem{
		Objective: func(x []float64) float64 { return x[0] },
		Limits:    unboundedLimits(2),
	}
	test.That(t, problem.Validate([]float64{0, 0}), test.ShouldBeNil)
	test.That(t, errors.Is(problem.Validate([]float64{0}), ErrInvalidProblem), test.ShouldBeTrue)
	test.That(t, errors.Is(problem.Validate([]float64{0, math.NaN()}), ErrInvalidProblem), test.ShouldBeTrue)

	problem.NumEquality = 2
	test.That(t, errors.Is(problem.Validate([]float64{0, 0}), ErrInvalidProblem), test.ShouldBeTrue)

	test.That(t, errors.Is((&Problem{Limits: unboundedLimits(1)}).Validate([]float64{0}), ErrInvalidProblem), test.ShouldBeTrue)

	parabola := parabolaProblem()
	test.That(t, parabola.Validate([]float64{0, 0}), test.ShouldBeNil)
	for _, dependent := range [][]int{nil, {0, 1}, {2}, {-1}} {
		parabola.Dependent = dependent
		test.That(t, errors.Is(parabola.Validate([]float64{0, 0}), ErrInvalidProblem), test.ShouldBeTrue)
	}
	parabola.Complete = nil
	parabola.Dependent = []int{1}
	test.That(t, errors.Is(parabola.Validate([]float64{0, 0}), ErrInvalidProblem), test.ShouldBeTrue)

	circle := circleProblem()
	circle.Equality = nil
	circle.NumEquality = 0
	test.That(t, errors.Is(circle.Validate([]float64{0, 0}), ErrInvalidProblem), test.ShouldBeTrue)
}

func TestProblemViolation(t *testing.T) {
	problem := &Problem{
		Objective:     func(x []float64) float64 { return 0 },
		Equality:      func(out, x []float64) { out[0] = x[0] - 1 },
		NumEquality:   1,
		Inequality:    func(out, x []float64) { out[0] = x[1] },
		NumInequality: 1,
		Limits:        []referenceframe.Limit{referenceframe.Unbounded(), {Min: -5, Max: 5}},
	}
	test.That(t, problem.Violation([]float64{1, -1}), test.ShouldEqual, 0.)
	test.That(t, problem.Violation([]float64{1.5, -1}), test.ShouldAlmostEqual, 0.5)
	test.That(t, problem.Violation([]float64{1, 0.25}), test.ShouldAlmostEqual, 0.25)
	test.That(t, problem.Violation([]float64{1, -7}), test.ShouldAlmostEqual, 2)
	test.That(t, math.IsInf(problem.Violation([]float64{math.NaN(), 0}), 1), test.ShouldBeTrue)
}

func TestBoundMap(t *testing.T) {
	limits := []referenceframe.Limit{
		{Min: -0.5, Max: 0.5},
		referenceframe.Fixed(7),
		{Min: 1, Max: math.Inf(1)},
		{Min: math.Inf(-1), Max: -1},
		referenceframe.Unbounded(),
	}
	m := newBoundMap(limits, nil)
	test.That(t, m.dim(), test.ShouldEqual, 4)

	x := []float64{0.25, 7, 3, -4, 12}
	z := m.toZ(x)
	back := make([]float64, len(x))
	m.toX(back, z)
	for i := range x {
		test.That(t, back[i], test.ShouldAlmostEqual, x[i], 1e-12)
	}

	// Any free coordinate maps inside the limits.
	for _, v := range []float64{-100, -1.5, 0, 2, 1e6} {
		m.toX(back, []float64{v, v, v, v})
		test.That(t, referenceframe.CheckInputs(back, limits), test.ShouldBeNil)
	}

	// chain matches the slope of toX in each free coordinate
	z = []float64{0.3, 1.2, -0.7, 4}
	gradX := []float64{1, 100, 1, 1, 1}
	gradZ := make([]float64, m.dim())
	m.chain(gradZ, gradX, z)
	for k, i := range []int{0, 2, 3, 4} {
		slope := fd.Derivative(func(v float64) float64 {
			shifted := append([]float64(nil), z...)
			shifted[k] = v
			m.toX(back, shifted)
			return back[i]
		}, z[k], &fd.Settings{Formula: fd.Central})
		test.That(t, gradZ[k], test.ShouldAlmostEqual, slope, 1e-6)
	}

	// excluded variables are left to the caller
	excluded := newBoundMap(limits, []int{1, 4})
	test.That(t, excluded.dim(), test.ShouldEqual, 3)
	back = []float64{0, -9, 0, 0, -9}
	excluded.toX(back, []float64{0, 0, 0})
	test.That(t, back[1], test.ShouldEqual, -9.)
	test.That(t, back[4], test.ShouldEqual, -9.)
}

// circleProblem is minimize x + y on the unit circle, with analytic derivatives.
func circleProblem() *Problem {
	return &Problem{
		Objective: func(x []float64) float64 { return x[0] + x[1] },
		Gradient: func(grad, x []float64) {
			grad[0], grad[1] = 1, 1
		},
		Equality:    func(out, x []float64) { out[0] = x[0]*x[0] + x[1]*x[1] - 1 },
		NumEquality: 1,
		EqualityJacobian: func(jac *mat.Dense, x []float64) {
			jac.Set(0, 0, 2*x[0])
			jac.Set(0, 1, 2*x[1])
		},
		Limits: unboundedLimits(2),
	}
}

func TestAugLagAnalyticDerivatives(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	analytic := circleProblem()
	numeric := circleProblem()
	numeric.Gradient = nil
	numeric.EqualityJacobian = nil

	for _, problem := range []*Problem{analytic, numeric} {
		sol, err := solver.Solve(context.Background(), problem, []float64{0.5, -1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.X[0], test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-4)
		test.That(t, sol.X[1], test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-4)
		test.That(t, sol.Violation, test.ShouldBeLessThanOrEqualTo, 1e-6)
	}

	// analytic gradients need no extra merit evaluations
	sol, err := solver.Solve(context.Background(), analytic, []float64{0.5, -1})
	test.That(t, err, test.ShouldBeNil)
	numericSol, err := solver.Solve(context.Background(), numeric, []float64{0.5, -1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Evaluations, test.ShouldBeLessThan, numericSol.Evaluations)
}

// parabolaProblem is minimize (u-1)^2 + (s-2)^2 subject to s = u^2 with u in [-1, 3]. The
// reduced objective (u-1)^2 + (u^2-2)^2 has its minimum at u = (1+sqrt(3))/2.
func parabolaProblem() *Problem {
	return &Problem{
		Objective: func(x []float64) float64 { return (x[0]-1)*(x[0]-1) + (x[1]-2)*(x[1]-2) },
		Gradient: func(grad, x []float64) {
			grad[0], grad[1] = 2*(x[0]-1), 2*(x[1]-2)
		},
		Equality:    func(out, x []float64) { out[0] = x[1] - x[0]*x[0] },
		NumEquality: 1,
		EqualityJacobian: func(jac *mat.Dense, x []float64) {
			jac.Set(0, 0, -2*x[0])
			jac.Set(0, 1, 1)
		},
		Complete:  func(x []float64) { x[1] = x[0] * x[0] },
		Dependent: []int{1},
		Limits:    []referenceframe.Limit{{Min: -1, Max: 3}, referenceframe.Unbounded()},
	}
}

func TestAugLagCompletion(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	want := (1 + math.Sqrt(3)) / 2

	analytic := parabolaProblem()
	numeric := parabolaProblem()
	numeric.Gradient = nil
	numeric.EqualityJacobian = nil
	for _, problem := range []*Problem{analytic, numeric} {
		// the seed's dependent value is ignored
		sol, err := solver.Solve(context.Background(), problem, []float64{0.5, -40})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.X[0], test.ShouldAlmostEqual, want, 1e-5)
		test.That(t, sol.X[1], test.ShouldEqual, sol.X[0]*sol.X[0])
		test.That(t, sol.Violation, test.ShouldEqual, 0.)
	}

	t.Run("inconsistent completion", func(t *testing.T) {
		problem := parabolaProblem()
		problem.Complete = func(x []float64) { x[1] = x[0]*x[0] + 0.5 }
		_, err := solver.Solve(context.Background(), problem, []float64{0.5, 0})
		test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeTrue)
	})

	t.Run("singular dependent jacobian", func(t *testing.T) {
		problem := parabolaProblem()
		problem.EqualityJacobian = func(jac *mat.Dense, x []float64) {
			jac.Set(0, 0, -2*x[0])
		}
		_, err := solver.Solve(context.Background(), problem, []float64{0.5, 0})
		test.That(t, errors.Is(err, ErrNonConvergence), test.ShouldBeTrue)
	})
}

func TestAugLagNonFiniteObjective(t *testing.T) {
	solver := NewAugLag(Settings{}, logging.NewTestLogger(t))
	problem := &Problem{
		Objective:   func(x []float64) float64 { return math.NaN() },
		Equality:    func(out, x []float64) { out[0] = x[0] - 1 },
		NumEquality: 1,
		Limits:      unboundedLimits(1),
	}
	_, err := solver.Solve(context.Background(), problem, []float64{0})
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrInfeasible), test.ShouldBeFalse)

	problem.Objective = func(x []float64) float64 { return math.Inf(1) }
	_, err = solver.Solve(context.Background(), problem, []float64{0})
	test.That(t, errors.Is(err, ErrInvalidProblem), test.ShouldBeTrue)
}

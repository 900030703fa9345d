// Package mpc implements a receding-horizon model predictive controller for a vehicle following
// a polynomial reference path. Each call to Solve plans steering and acceleration over a fixed
// horizon and returns the first command of the plan.
package mpc

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/nlp"
	"go.viam.com/mpc/referenceframe"
)

// Controller plans actuations. It is safe for concurrent use; solves are serialized.
type Controller struct {
	cfg    config.Config
	logger logging.Logger
	layout Layout

	model       kinematics.Model
	costFactory CostFactory
	solver      nlp.Solver
	clock       clock.Clock

	mu sync.Mutex
	// lastPlan is the previous successful plan, kept only when warm starting.
	lastPlan []kinematics.Actuation
}

// An Option customizes a Controller.
type Option func(*Controller)

// WithModel replaces the bicycle model.
func WithModel(model kinematics.Model) Option {
	return func(c *Controller) {
		c.model = model
	}
}

// WithCostFactory replaces the weighted tracking cost.
func WithCostFactory(factory CostFactory) Option {
	return func(c *Controller) {
		c.costFactory = factory
	}
}

// WithSolver replaces the solver selected by the config backend.
func WithSolver(solver nlp.Solver) Option {
	return func(c *Controller) {
		c.solver = solver
	}
}

// WithClock sets the clock used to time solves.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// New returns a controller for cfg. The config is copied and fixed for the controller's lifetime.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("mpc config is nil")
	}
	if err := cfg.Validate("mpc"); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:         *cfg,
		logger:      logger,
		layout:      Layout{Steps: cfg.Horizon.Steps},
		costFactory: NewWeightedCost,
		clock:       clock.New(),
	}
	c.cfg.Weights = append([]float64(nil), cfg.Weights...)
	for _, opt := range opts {
		opt(c)
	}
	if c.model == nil {
		bicycle, err := kinematics.NewBicycle(cfg.Vehicle.Lf)
		if err != nil {
			return nil, err
		}
		c.model = bicycle
	}
	if c.solver == nil {
		solver, err := newSolver(cfg.Solver, logger)
		if err != nil {
			return nil, err
		}
		c.solver = solver
	}
	return c, nil
}

func newSolver(cfg config.SolverConfig, logger logging.Logger) (nlp.Solver, error) {
	settings := nlp.Settings{
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
		MaxTime:       cfg.MaxSolveTime(),
	}
	switch cfg.Backend {
	case config.BackendNlopt:
		return nlp.NewNlopt(settings, logger.Sublogger("nlopt"))
	case "", config.BackendAugLag:
		return nlp.NewAugLag(settings, logger.Sublogger("auglag")), nil
	default:
		return nil, errors.Errorf("unknown solver backend %q", cfg.Backend)
	}
}

// Config returns a copy of the controller's configuration.
func (c *Controller) Config() config.Config {
	cfg := c.cfg
	cfg.Weights = append([]float64(nil), c.cfg.Weights...)
	return cfg
}

// Layout returns the decision vector layout of the controller's horizon.
func (c *Controller) Layout() Layout {
	return c.layout
}

// DefaultWeights returns the weights from the config, or an error if the config has none.
func (c *Controller) DefaultWeights() (CostWeights, error) {
	if len(c.cfg.Weights) == 0 {
		return CostWeights{}, errors.New("config has no default weights")
	}
	return WeightsFromSlice(c.cfg.Weights)
}

// Solve plans over the horizon starting at state and returns the first command along with the
// predicted trajectory. On failure the error is a *SolveFailure and no actuation is returned.
func (c *Controller) Solve(
	ctx context.Context,
	state kinematics.State,
	ref kinematics.Polynomial,
	weights CostWeights,
) (Result, error) {
	if err := state.Validate(); err != nil {
		return Result{}, newInvalidInput(err)
	}
	if err := ref.Validate(); err != nil {
		return Result{}, newInvalidInput(err)
	}
	if err := weights.Validate(); err != nil {
		return Result{}, newInvalidInput(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.clock.Now()
	hp := &horizonProblem{
		layout:          c.layout,
		model:           c.model,
		cost:            c.costFactory(weights, c.cfg.Vehicle.ReferenceSpeed()),
		initial:         state,
		ref:             append(kinematics.Polynomial(nil), ref...),
		dt:              c.cfg.Horizon.StepDurationSec,
		maxSteering:     c.cfg.Bounds.MaxSteering(),
		minAcceleration: c.cfg.Bounds.MinAcceleration,
		maxAcceleration: c.cfg.Bounds.MaxAcceleration,
	}
	var plan []kinematics.Actuation
	if c.cfg.Solver.WarmStart {
		plan = shiftPlan(c.lastPlan)
	}

	problem := hp.build()
	solution, err := c.solver.Solve(ctx, problem, hp.seed(plan))
	if err == nil {
		// injected solvers must still honor the pinned state and actuator bounds
		if boundsErr := referenceframe.CheckInputs(solution.X, problem.Limits); boundsErr != nil {
			err = errors.Wrap(nlp.ErrInfeasible, boundsErr.Error())
		}
	}
	if err != nil {
		failure := classifySolverError(err)
		c.logger.Warnw("mpc solve failed", "reason", failure.Reason.String(), "error", err)
		return Result{}, failure
	}

	states := make([]kinematics.State, c.layout.Steps)
	actuations := make([]kinematics.Actuation, c.layout.Steps-1)
	c.layout.Unpack(solution.X, states, actuations)
	result := newResult(states, actuations)
	result.Cost = solution.Cost
	result.Iterations = solution.Iterations
	result.Duration = c.clock.Since(start)

	if c.cfg.Solver.WarmStart {
		c.lastPlan = append([]kinematics.Actuation(nil), actuations...)
	}
	c.logger.CDebugw(ctx, "mpc solve",
		"steering", result.Steering,
		"acceleration", result.Acceleration,
		"cost", result.Cost,
		"iterations", result.Iterations,
		"violation", solution.Violation,
		"duration", result.Duration,
	)
	return result, nil
}

// SolveVectors is Solve for callers holding plain slices: a six element state
// [x, y, psi, v, cte, epsi], polynomial coefficients in ascending order and seven weights.
func (c *Controller) SolveVectors(ctx context.Context, state, coeffs, weights []float64) (Result, error) {
	s, err := kinematics.StateFromSlice(state)
	if err != nil {
		return Result{}, newInvalidInput(err)
	}
	w, err := WeightsFromSlice(weights)
	if err != nil {
		return Result{}, newInvalidInput(err)
	}
	return c.Solve(ctx, s, kinematics.Polynomial(coeffs), w)
}

// Reset forgets the previous plan used for warm starting.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPlan = nil
}

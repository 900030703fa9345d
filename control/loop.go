package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/mpc/control/mpc"
	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/logging"
)

// A Solver plans the next command for a state. *mpc.Controller is a Solver.
type Solver interface {
	Solve(ctx context.Context, state kinematics.State, ref kinematics.Polynomial, weights mpc.CostWeights) (mpc.Result, error)
}

// Record is what happened in one cycle.
type Record struct {
	Cycle int `json:"cycle"`
	// Time is the simulated time at the start of the cycle.
	Time      time.Duration        `json:"time"`
	State     kinematics.State     `json:"state"`
	Command   kinematics.Actuation `json:"command"`
	Predicted []kinematics.Point   `json:"predicted,omitempty"`
	SolveTime time.Duration        `json:"solve_time"`
	Failure   string               `json:"failure,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	// RunID tags every log line of the run.
	RunID   string           `json:"run_id"`
	Records []Record         `json:"records"`
	Final   kinematics.State `json:"final"`
	Summary Summary          `json:"summary"`
}

// Loop runs a Solver against a Plant.
type Loop struct {
	cfg     Config
	logger  logging.Logger
	plant   Plant
	solver  Solver
	ref     kinematics.Polynomial
	weights mpc.CostWeights
	clock   clock.Clock
	dt      time.Duration
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithLoopClock sets the clock used for pacing and solve timing.
func WithLoopClock(clk clock.Clock) LoopOption {
	return func(l *Loop) {
		l.clock = clk
	}
}

// NewLoop construct a new control loop tracking ref with the given weights.
func NewLoop(
	logger logging.Logger,
	cfg Config,
	plant Plant,
	solver Solver,
	ref kinematics.Polynomial,
	weights mpc.CostWeights,
	opts ...LoopOption,
) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if plant == nil || solver == nil {
		return nil, errors.New("loop needs a plant and a solver")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:     cfg,
		logger:  logger,
		plant:   plant,
		solver:  solver,
		ref:     append(kinematics.Polynomial(nil), ref...),
		weights: weights,
		clock:   clock.New(),
		dt:      cfg.Period(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Frequency returns the loop's frequency.
func (l *Loop) Frequency() float64 {
	return l.cfg.Frequency
}

// Run executes the configured number of cycles. If the context is cancelled or the failure
// policy aborts, the report of the cycles completed so far is returned with the error.
func (l *Loop) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New().String(), Records: make([]Record, 0, l.cfg.Cycles)}
	logger := l.logger.WithFields("run_id", report.RunID)
	logger.Infof("running loop at %1.4fHz (%v) for %d cycles", l.cfg.Frequency, l.dt, l.cfg.Cycles)
	finish := func(err error) (*Report, error) {
		report.Final = l.plant.State()
		summary, sErr := Summarize(report.Records)
		if sErr != nil {
			logger.Warnw("cannot summarize run", "error", sErr)
		}
		report.Summary = summary
		return report, err
	}

	var ticker *clock.Ticker
	if l.cfg.RealTime {
		ticker = l.clock.Ticker(l.dt)
		defer ticker.Stop()
	}

	actuators := &delayLine{latency: l.cfg.Latency()}
	var last kinematics.Actuation
	now := time.Duration(0)
	for cycle := 0; cycle < l.cfg.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		state := l.plant.State()
		start := l.clock.Now()
		result, err := l.solver.Solve(ctx, state, l.ref, l.weights)
		record := Record{
			Cycle:     cycle,
			Time:      now,
			State:     state,
			SolveTime: l.clock.Since(start),
		}

		var command kinematics.Actuation
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			record.Failure = err.Error()
			logger.Warnw("solve failed", "cycle", cycle, "policy", l.policy(), "error", err)
			switch l.policy() {
			case Abort:
				report.Records = append(report.Records, record)
				return finish(errors.Wrapf(err, "cycle %d", cycle))
			case Brake:
				command = kinematics.Actuation{Steering: last.Steering, Acceleration: l.cfg.BrakeAcceleration}
			case HoldLastCommand:
				command = last
			}
		} else {
			command = result.Actuation()
			record.Predicted = result.Trajectory
		}
		record.Command = command
		report.Records = append(report.Records, record)

		actuators.send(now, command)
		actuators.advance(l.plant, now, now+l.dt)
		last = command
		now += l.dt

		logger.CDebugw(ctx, "cycle",
			"cycle", cycle,
			"cte", state.Cte,
			"steering", command.Steering,
			"acceleration", command.Acceleration,
			"solve_time", record.SolveTime,
		)
		if ticker != nil && cycle < l.cfg.Cycles-1 {
			if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
				return finish(ctx.Err())
			}
		}
	}
	return finish(nil)
}

func (l *Loop) policy() FailurePolicy {
	if l.cfg.FailurePolicy == "" {
		return HoldLastCommand
	}
	return l.cfg.FailurePolicy
}

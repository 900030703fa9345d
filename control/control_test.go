package control

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/control/mpc"
	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/utils"
)

var straightLine = kinematics.Polynomial{0, 0, 0, 0}

type advance struct {
	u  kinematics.Actuation
	dt float64
}

type recordingPlant struct {
	state    kinematics.State
	advances []advance
}

func (rp *recordingPlant) State() kinematics.State {
	return rp.state
}

func (rp *recordingPlant) Advance(u kinematics.Actuation, dt float64) {
	rp.advances = append(rp.advances, advance{u, dt})
	rp.state.X += dt
}

type scriptedSolver struct {
	clock *clock.Mock
	calls int
	fail  map[int]error
}

func (ss *scriptedSolver) Solve(
	ctx context.Context,
	state kinematics.State,
	ref kinematics.Polynomial,
	weights mpc.CostWeights,
) (mpc.Result, error) {
	call := ss.calls
	ss.calls++
	if ss.clock != nil {
		ss.clock.Add(10 * time.Millisecond)
	}
	if err := ss.fail[call]; err != nil {
		return mpc.Result{}, err
	}
	return mpc.Result{
		Steering:     0.01 * float64(call+1),
		Acceleration: 0.1,
		Trajectory:   []kinematics.Point{{X: state.X}},
	}, nil
}

func TestConfigValidate(t *testing.T) {
	good := Config{Frequency: 10, Cycles: 5}
	test.That(t, good.Validate(), test.ShouldBeNil)
	test.That(t, good.Period(), test.ShouldEqual, 100*time.Millisecond)

	for _, tc := range []struct {
		name   string
		cfg    Config
		errStr string
	}{
		{"zero frequency", Config{Cycles: 1}, "frequency"},
		{"fast", Config{Frequency: 201, Cycles: 1}, "200Hz"},
		{"no cycles", Config{Frequency: 10}, "cycle"},
		{"negative latency", Config{Frequency: 10, Cycles: 1, LatencySec: -1}, "latency"},
		{"policy", Config{Frequency: 10, Cycles: 1, FailurePolicy: "panic"}, "unknown failure policy"},
		{"positive brake", Config{Frequency: 10, Cycles: 1, FailurePolicy: Brake, BrakeAcceleration: 1}, "brake"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}
}

func TestNewLoop(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := Config{Frequency: 10, Cycles: 3}

	_, err := NewLoop(logger, Config{Frequency: 300, Cycles: 1}, &recordingPlant{}, &scriptedSolver{}, straightLine, mpc.CostWeights{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLoop(logger, cfg, nil, &scriptedSolver{}, straightLine, mpc.CostWeights{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLoop(logger, cfg, &recordingPlant{}, &scriptedSolver{}, nil, mpc.CostWeights{})
	test.That(t, err, test.ShouldNotBeNil)

	l, err := NewLoop(logger, cfg, &recordingPlant{}, &scriptedSolver{}, straightLine, mpc.CostWeights{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Frequency(), test.ShouldEqual, 10.)
}

func TestLoopRun(t *testing.T) {
	mock := clock.NewMock()
	plant := &recordingPlant{}
	solver := &scriptedSolver{clock: mock}
	l, err := NewLoop(logging.NewTestLogger(t), Config{Frequency: 10, Cycles: 4}, plant, solver, straightLine,
		mpc.CostWeights{}, WithLoopClock(mock))
	test.That(t, err, test.ShouldBeNil)

	report, err := l.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(report.Records), test.ShouldEqual, 4)
	test.That(t, solver.calls, test.ShouldEqual, 4)
	for i, r := range report.Records {
		test.That(t, r.Cycle, test.ShouldEqual, i)
		test.That(t, r.Time, test.ShouldEqual, time.Duration(i)*100*time.Millisecond)
		test.That(t, r.Command.Steering, test.ShouldAlmostEqual, 0.01*float64(i+1))
		test.That(t, r.SolveTime, test.ShouldEqual, 10*time.Millisecond)
		test.That(t, r.Failure, test.ShouldBeEmpty)
		test.That(t, len(r.Predicted), test.ShouldEqual, 1)
	}
	// without latency every command drives the plant for the whole period
	test.That(t, len(plant.advances), test.ShouldEqual, 4)
	for i, a := range plant.advances {
		test.That(t, a.u, test.ShouldResemble, report.Records[i].Command)
		test.That(t, a.dt, test.ShouldAlmostEqual, 0.1)
	}
	test.That(t, report.Final.X, test.ShouldAlmostEqual, 0.4)
	test.That(t, report.Summary.Cycles, test.ShouldEqual, 4)
	test.That(t, report.Summary.MeanSolveTime, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, report.Summary.P95SolveTime, test.ShouldEqual, 10*time.Millisecond)
	test.That(t, report.Summary.MaxSolveTime, test.ShouldEqual, 10*time.Millisecond)

	test.That(t, len(report.RunID), test.ShouldEqual, 36)
	again, err := l.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.RunID, test.ShouldNotEqual, report.RunID)
}

func TestLoopLatency(t *testing.T) {
	plant := &recordingPlant{}
	l, err := NewLoop(logging.NewTestLogger(t), Config{Frequency: 10, Cycles: 3, LatencySec: 0.15}, plant,
		&scriptedSolver{}, straightLine, mpc.CostWeights{})
	test.That(t, err, test.ShouldBeNil)
	report, err := l.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)

	first := report.Records[0].Command
	second := report.Records[1].Command
	expected := []advance{
		{kinematics.Actuation{}, 0.1},
		{kinematics.Actuation{}, 0.05},
		{first, 0.05},
		{first, 0.05},
		{second, 0.05},
	}
	test.That(t, len(plant.advances), test.ShouldEqual, len(expected))
	for i, a := range plant.advances {
		test.That(t, a.u, test.ShouldResemble, expected[i].u)
		test.That(t, a.dt, test.ShouldAlmostEqual, expected[i].dt, 1e-9)
	}
}

func TestLoopFailurePolicies(t *testing.T) {
	solveErr := &mpc.SolveFailure{Reason: mpc.NonConvergence, Err: errors.New("cap")}
	run := func(policy FailurePolicy) (*Report, error) {
		cfg := Config{Frequency: 20, Cycles: 4, FailurePolicy: policy, BrakeAcceleration: -2}
		solver := &scriptedSolver{fail: map[int]error{2: solveErr}}
		l, err := NewLoop(logging.NewTestLogger(t), cfg, &recordingPlant{}, solver, straightLine, mpc.CostWeights{})
		test.That(t, err, test.ShouldBeNil)
		return l.Run(context.Background())
	}

	report, err := run(HoldLastCommand)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Records[2].Failure, test.ShouldContainSubstring, "non-convergence")
	test.That(t, report.Records[2].Command, test.ShouldResemble, report.Records[1].Command)
	test.That(t, report.Records[3].Failure, test.ShouldBeEmpty)
	test.That(t, report.Summary.Failures, test.ShouldEqual, 1)

	report, err = run("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Records[2].Command, test.ShouldResemble, report.Records[1].Command)

	report, err = run(Brake)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Records[2].Command, test.ShouldResemble, kinematics.Actuation{
		Steering:     report.Records[1].Command.Steering,
		Acceleration: -2,
	})

	report, err = run(Abort)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cycle 2")
	reason, ok := mpc.ReasonOf(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reason, test.ShouldEqual, mpc.NonConvergence)
	test.That(t, len(report.Records), test.ShouldEqual, 3)
	test.That(t, report.Summary.Failures, test.ShouldEqual, 1)
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, err := NewLoop(logging.NewTestLogger(t), Config{Frequency: 10, Cycles: 3}, &recordingPlant{},
		&scriptedSolver{}, straightLine, mpc.CostWeights{})
	test.That(t, err, test.ShouldBeNil)
	report, err := l.Run(ctx)
	test.That(t, err, test.ShouldEqual, context.Canceled)
	test.That(t, report.Records, test.ShouldBeEmpty)
}

func TestSimulatedVehicle(t *testing.T) {
	bicycle, err := kinematics.NewBicycle(kinematics.DefaultLf)
	test.That(t, err, test.ShouldBeNil)
	ref := kinematics.Polynomial{1}
	vehicle := NewSimulatedVehicle(bicycle, ref, kinematics.State{V: 10})
	test.That(t, vehicle.State().Cte, test.ShouldEqual, 1.)

	vehicle.Advance(kinematics.Actuation{Acceleration: 1}, 0.5)
	s := vehicle.State()
	test.That(t, s.V, test.ShouldAlmostEqual, 10.5, 1e-9)
	// constant acceleration from 10 m/s for half a second
	test.That(t, s.X, test.ShouldAlmostEqual, 5.125, 0.01)
	test.That(t, s.Y, test.ShouldEqual, 0.)
	test.That(t, s.Cte, test.ShouldEqual, 1.)

	vehicle.Advance(kinematics.Actuation{Steering: 0.1}, 0)
	test.That(t, vehicle.State(), test.ShouldResemble, s)

	vehicle.Advance(kinematics.Actuation{Steering: 0.1}, 0.2)
	test.That(t, vehicle.State().Psi, test.ShouldBeGreaterThan, 0)
	test.That(t, vehicle.State().Y, test.ShouldBeGreaterThan, 0)
}

func TestSummarize(t *testing.T) {
	summary, err := Summarize(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary, test.ShouldResemble, Summary{})

	records := []Record{
		{State: kinematics.State{Cte: -1, Epsi: 0.2, V: utils.MPHToMPS(30)}, SolveTime: 10 * time.Millisecond},
		{State: kinematics.State{Cte: 3, Epsi: -0.4, V: utils.MPHToMPS(50)}, SolveTime: 30 * time.Millisecond, Failure: "x"},
	}
	summary, err = Summarize(records)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Cycles, test.ShouldEqual, 2)
	test.That(t, summary.Failures, test.ShouldEqual, 1)
	test.That(t, summary.MeanAbsCte, test.ShouldAlmostEqual, 2)
	test.That(t, summary.MaxAbsCte, test.ShouldAlmostEqual, 3)
	test.That(t, summary.MeanAbsEpsi, test.ShouldAlmostEqual, 0.3)
	test.That(t, summary.MeanSpeedMPH, test.ShouldAlmostEqual, 40, 1e-9)
	test.That(t, summary.MeanSolveTime, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, summary.MaxSolveTime, test.ShouldEqual, 30*time.Millisecond)

	summary, err = Summarize(records[:1])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.P95SolveTime, test.ShouldEqual, 10*time.Millisecond)
}

func TestClosedLoopConvergesToPath(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := config.Default()
	cfg.Solver.MaxIterations = 20000
	controller, err := mpc.New(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	weights, err := controller.DefaultWeights()
	test.That(t, err, test.ShouldBeNil)

	bicycle, err := kinematics.NewBicycle(cfg.Vehicle.Lf)
	test.That(t, err, test.ShouldBeNil)
	vehicle := NewSimulatedVehicle(bicycle, straightLine, kinematics.State{Y: 1, V: cfg.Vehicle.ReferenceSpeed()})

	l, err := NewLoop(logger, Config{Frequency: 10, Cycles: 20, FailurePolicy: Abort}, vehicle, controller,
		straightLine, weights)
	test.That(t, err, test.ShouldBeNil)
	report, err := l.Run(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Summary.Failures, test.ShouldEqual, 0)
	test.That(t, report.Summary.MaxAbsCte, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, math.Abs(report.Final.Cte), test.ShouldBeLessThan, 0.5)
	maxSteering := cfg.Bounds.MaxSteering()
	for _, r := range report.Records {
		test.That(t, r.Command.Steering, test.ShouldBeBetweenOrEqual, -maxSteering, maxSteering)
	}
}

package mpc

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/nlp"
	"go.viam.com/mpc/referenceframe"
)

// horizonProblem holds everything needed to build the program for one solve.
type horizonProblem struct {
	layout  Layout
	model   kinematics.Model
	cost    Cost
	initial kinematics.State
	ref     kinematics.Polynomial
	dt      float64

	maxSteering     float64
	minAcceleration float64
	maxAcceleration float64
}

// limits pins the first state to the measured one, leaves later states free and bounds the
// actuators.
func (hp *horizonProblem) limits() []referenceframe.Limit {
	l := hp.layout
	limits := make([]referenceframe.Limit, l.Dim())
	for i := range limits {
		limits[i] = referenceframe.Unbounded()
	}
	for k, v := range hp.initial.Slice() {
		limits[l.StateIndex(k, 0)] = referenceframe.Fixed(v)
	}
	for t := 0; t < l.Steps-1; t++ {
		limits[l.SteeringIndex(t)] = referenceframe.Symmetric(hp.maxSteering)
		limits[l.AccelerationIndex(t)] = referenceframe.Limit{Min: hp.minAcceleration, Max: hp.maxAcceleration}
	}
	return limits
}

// objective returns the cost as a function of the decision vector.
func (hp *horizonProblem) objective() func(x []float64) float64 {
	states := make([]kinematics.State, hp.layout.Steps)
	actuations := make([]kinematics.Actuation, hp.layout.Steps-1)
	return func(x []float64) float64 {
		hp.layout.Unpack(x, states, actuations)
		return hp.cost.Evaluate(states, actuations)
	}
}

// equality returns the 6N residuals: the difference between the first state and the measured
// state, then the difference between each later state and the model step from its predecessor.
// Rows are grouped by component in the same order as the state variables.
func (hp *horizonProblem) equality() nlp.VectorFunc {
	l := hp.layout
	states := make([]kinematics.State, l.Steps)
	actuations := make([]kinematics.Actuation, l.Steps-1)
	return func(out, x []float64) {
		l.Unpack(x, states, actuations)
		putResidual(out, l, 0, states[0], hp.initial)
		for t := 1; t < l.Steps; t++ {
			predicted := hp.model.Step(states[t-1], actuations[t-1], hp.ref, hp.dt)
			putResidual(out, l, t, states[t], predicted)
		}
	}
}

func putResidual(out []float64, l Layout, t int, got, want kinematics.State) {
	out[l.StateIndex(0, t)] = got.X - want.X
	out[l.StateIndex(1, t)] = got.Y - want.Y
	out[l.StateIndex(2, t)] = got.Psi - want.Psi
	out[l.StateIndex(3, t)] = got.V - want.V
	out[l.StateIndex(4, t)] = got.Cte - want.Cte
	out[l.StateIndex(5, t)] = got.Epsi - want.Epsi
}

// gradient returns the analytic objective gradient, or nil when the cost cannot differentiate
// itself.
func (hp *horizonProblem) gradient() func(grad, x []float64) {
	cost, ok := hp.cost.(DifferentiableCost)
	if !ok {
		return nil
	}
	l := hp.layout
	states := make([]kinematics.State, l.Steps)
	actuations := make([]kinematics.Actuation, l.Steps-1)
	gradStates := make([]kinematics.State, l.Steps)
	gradActuations := make([]kinematics.Actuation, l.Steps-1)
	return func(grad, x []float64) {
		l.Unpack(x, states, actuations)
		cost.Gradient(states, actuations, gradStates, gradActuations)
		l.Put(grad, gradStates, gradActuations)
	}
}

// equalityJacobian returns the Jacobian of the residuals, or nil when the model cannot
// differentiate its step. Each residual row has a unit entry for its own state variable and the
// negated step Jacobian against the previous state and actuation.
func (hp *horizonProblem) equalityJacobian() func(jac *mat.Dense, x []float64) {
	model, ok := hp.model.(kinematics.DifferentiableModel)
	if !ok {
		return nil
	}
	l := hp.layout
	states := make([]kinematics.State, l.Steps)
	actuations := make([]kinematics.Actuation, l.Steps-1)
	return func(jac *mat.Dense, x []float64) {
		l.Unpack(x, states, actuations)
		for k := 0; k < kinematics.StateDim; k++ {
			row := l.StateIndex(k, 0)
			jac.Set(row, row, 1)
		}
		for t := 1; t < l.Steps; t++ {
			step := model.Jacobian(states[t-1], actuations[t-1], hp.ref, hp.dt)
			for k := 0; k < kinematics.StateDim; k++ {
				row := l.StateIndex(k, t)
				jac.Set(row, row, 1)
				for j, d := range step.State[k] {
					if d != 0 {
						jac.Set(row, l.StateIndex(j, t-1), -d)
					}
				}
				jac.Set(row, l.SteeringIndex(t-1), -step.Actuation[k][0])
				jac.Set(row, l.AccelerationIndex(t-1), -step.Actuation[k][1])
			}
		}
	}
}

// complete overwrites the states of x with the rollout of its actuations from the measured state,
// which zeroes every residual.
func (hp *horizonProblem) complete() func(x []float64) {
	l := hp.layout
	states := make([]kinematics.State, l.Steps)
	actuations := make([]kinematics.Actuation, l.Steps-1)
	return func(x []float64) {
		l.Unpack(x, states, actuations)
		states[0] = hp.initial
		for t := 1; t < l.Steps; t++ {
			states[t] = hp.model.Step(states[t-1], actuations[t-1], hp.ref, hp.dt)
		}
		l.Put(x, states, actuations)
	}
}

func (hp *horizonProblem) build() *nlp.Problem {
	// the states lead the decision vector, one per residual row
	dependent := make([]int, hp.layout.NumStateVars())
	for i := range dependent {
		dependent[i] = i
	}
	return &nlp.Problem{
		Objective:        hp.objective(),
		Gradient:         hp.gradient(),
		Equality:         hp.equality(),
		NumEquality:      hp.layout.NumStateVars(),
		EqualityJacobian: hp.equalityJacobian(),
		Complete:         hp.complete(),
		Dependent:        dependent,
		Limits:           hp.limits(),
	}
}

// seed rolls the model forward from the measured state under the given actuations, clamped to the
// actuator bounds, and packs the result. A nil plan means zero actuation throughout.
func (hp *horizonProblem) seed(plan []kinematics.Actuation) []float64 {
	actuations := make([]kinematics.Actuation, hp.layout.Steps-1)
	for t := range actuations {
		var u kinematics.Actuation
		if t < len(plan) {
			u = plan[t]
		}
		actuations[t] = kinematics.Actuation{
			Steering:     clamp(u.Steering, -hp.maxSteering, hp.maxSteering),
			Acceleration: clamp(u.Acceleration, hp.minAcceleration, hp.maxAcceleration),
		}
	}
	states := kinematics.Rollout(hp.model, hp.initial, actuations, hp.ref, hp.dt)
	return hp.layout.Pack(states, actuations)
}

// shiftPlan drops the first command of a previous plan and repeats its last one, which is the
// natural guess for the next cycle of a receding horizon.
func shiftPlan(previous []kinematics.Actuation) []kinematics.Actuation {
	if len(previous) == 0 {
		return nil
	}
	shifted := make([]kinematics.Actuation, len(previous))
	copy(shifted, previous[1:])
	shifted[len(shifted)-1] = previous[len(previous)-1]
	return shifted
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

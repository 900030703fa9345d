package mpc

import (
	"go.viam.com/mpc/kinematics"
)

// Layout maps a horizon onto the flat decision vector handed to the solver. The vector holds N
// values of each state component followed by N-1 values of each actuator, grouped by component:
// all x, all y, all psi, all v, all cte, all epsi, all steering, all acceleration.
type Layout struct {
	Steps int
}

// NumStateVars is the number of state variables, 6N.
func (l Layout) NumStateVars() int {
	return kinematics.StateDim * l.Steps
}

// NumActuationVars is the number of actuator variables, 2(N-1).
func (l Layout) NumActuationVars() int {
	return 2 * (l.Steps - 1)
}

// Dim is the length of the decision vector.
func (l Layout) Dim() int {
	return l.NumStateVars() + l.NumActuationVars()
}

// StateIndex returns the position of component k (in State.Slice order) of state t.
func (l Layout) StateIndex(k, t int) int {
	return k*l.Steps + t
}

// SteeringIndex returns the position of the steering command applied after state t.
func (l Layout) SteeringIndex(t int) int {
	return l.NumStateVars() + t
}

// AccelerationIndex returns the position of the acceleration command applied after state t.
func (l Layout) AccelerationIndex(t int) int {
	return l.NumStateVars() + l.Steps - 1 + t
}

// Unpack reads vars into states and actuations, which must have lengths N and N-1.
func (l Layout) Unpack(vars []float64, states []kinematics.State, actuations []kinematics.Actuation) {
	n := l.Steps
	for t := range states {
		states[t] = kinematics.State{
			X:    vars[t],
			Y:    vars[n+t],
			Psi:  vars[2*n+t],
			V:    vars[3*n+t],
			Cte:  vars[4*n+t],
			Epsi: vars[5*n+t],
		}
	}
	for t := range actuations {
		actuations[t] = kinematics.Actuation{
			Steering:     vars[l.SteeringIndex(t)],
			Acceleration: vars[l.AccelerationIndex(t)],
		}
	}
}

// Pack is the inverse of Unpack.
func (l Layout) Pack(states []kinematics.State, actuations []kinematics.Actuation) []float64 {
	vars := make([]float64, l.Dim())
	l.Put(vars, states, actuations)
	return vars
}

// Put is Pack into an existing vector of length Dim.
func (l Layout) Put(vars []float64, states []kinematics.State, actuations []kinematics.Actuation) {
	n := l.Steps
	for t, s := range states {
		vars[t] = s.X
		vars[n+t] = s.Y
		vars[2*n+t] = s.Psi
		vars[3*n+t] = s.V
		vars[4*n+t] = s.Cte
		vars[5*n+t] = s.Epsi
	}
	for t, u := range actuations {
		vars[l.SteeringIndex(t)] = u.Steering
		vars[l.AccelerationIndex(t)] = u.Acceleration
	}
}

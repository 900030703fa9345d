package kinematics

import (
	"math"

	"github.com/pkg/errors"
)

// DefaultLf is the distance between the front of the vehicle and its center of gravity, tuned so
// that a simulated vehicle turning at a constant steering angle and speed traces the same radius
// as the physical one.
const DefaultLf = 2.67

// A Model advances a state by one discrete step of dt seconds under a constant actuation. ref is
// the reference path the error terms are measured against.
type Model interface {
	Step(s State, u Actuation, ref Polynomial, dt float64) State
}

// A StepJacobian holds the partial derivatives of one model step. State[i][j] is the derivative of
// component i of the next state with respect to component j of the current one, both in
// State.Slice order. Actuation[i] holds the derivatives of component i with respect to steering
// and acceleration.
type StepJacobian struct {
	State     [StateDim][StateDim]float64
	Actuation [StateDim][2]float64
}

// A DifferentiableModel is a Model that can also differentiate its step.
type DifferentiableModel interface {
	Model
	Jacobian(s State, u Actuation, ref Polynomial, dt float64) StepJacobian
}

// Bicycle is the kinematic bicycle model.
type Bicycle struct {
	Lf float64
}

// NewBicycle returns a bicycle model with the given steering-to-yaw length.
func NewBicycle(lf float64) (*Bicycle, error) {
	if !(lf > 0) || math.IsInf(lf, 1) {
		return nil, errors.Errorf("bicycle Lf must be positive and finite, got %v", lf)
	}
	return &Bicycle{Lf: lf}, nil
}

// Step implements Model.
func (b *Bicycle) Step(s State, u Actuation, ref Polynomial, dt float64) State {
	yaw := s.V / b.Lf * u.Steering * dt
	return State{
		X:    s.X + s.V*math.Cos(s.Psi)*dt,
		Y:    s.Y + s.V*math.Sin(s.Psi)*dt,
		Psi:  s.Psi + yaw,
		V:    s.V + u.Acceleration*dt,
		Cte:  ref.Eval(s.X) - s.Y + s.V*math.Sin(s.Epsi)*dt,
		Epsi: s.Psi - ref.DesiredHeading(s.X) + yaw,
	}
}

// Jacobian implements DifferentiableModel.
func (b *Bicycle) Jacobian(s State, u Actuation, ref Polynomial, dt float64) StepJacobian {
	const (
		x = iota
		y
		psi
		v
		cte
		epsi
	)
	sinPsi, cosPsi := math.Sincos(s.Psi)
	slope := ref.Derivative(s.X)
	var j StepJacobian

	j.State[x][x] = 1
	j.State[x][psi] = -s.V * sinPsi * dt
	j.State[x][v] = cosPsi * dt

	j.State[y][y] = 1
	j.State[y][psi] = s.V * cosPsi * dt
	j.State[y][v] = sinPsi * dt

	j.State[psi][psi] = 1
	j.State[psi][v] = u.Steering * dt / b.Lf
	j.Actuation[psi][0] = s.V * dt / b.Lf

	j.State[v][v] = 1
	j.Actuation[v][1] = dt

	j.State[cte][x] = slope
	j.State[cte][y] = -1
	j.State[cte][v] = math.Sin(s.Epsi) * dt
	j.State[cte][epsi] = s.V * math.Cos(s.Epsi) * dt

	j.State[epsi][x] = -ref.SecondDerivative(s.X) / (1 + slope*slope)
	j.State[epsi][psi] = 1
	j.State[epsi][v] = u.Steering * dt / b.Lf
	j.Actuation[epsi][0] = s.V * dt / b.Lf
	return j
}

// Rollout applies actuations in order starting from s and returns len(actuations)+1 states, the
// first of which is s.
func Rollout(m Model, s State, actuations []Actuation, ref Polynomial, dt float64) []State {
	states := make([]State, 0, len(actuations)+1)
	states = append(states, s)
	for _, u := range actuations {
		s = m.Step(s, u, ref, dt)
		states = append(states, s)
	}
	return states
}

// TrackingErrors computes cte and epsi of a state against ref from its position and heading.
// Simulated plants use it to produce the telemetry a real vehicle would report.
func TrackingErrors(s State, ref Polynomial) State {
	s.Cte = ref.Eval(s.X) - s.Y
	s.Epsi = s.Psi - ref.DesiredHeading(s.X)
	return s
}

// Package control runs a controller against a plant in closed loop. It is used to exercise the
// MPC in simulation before it drives a real vehicle.
package control

import (
	"math"

	"go.viam.com/mpc/kinematics"
)

// maxIntegrationStep bounds the step used to advance a simulated vehicle, independently of the
// loop period.
const maxIntegrationStep = 0.01

// A Plant is the system under control.
type Plant interface {
	// State returns the current measured state, including tracking errors.
	State() kinematics.State
	// Advance applies u for dt seconds.
	Advance(u kinematics.Actuation, dt float64)
}

// SimulatedVehicle is a Plant driven by a kinematic model along a reference path.
type SimulatedVehicle struct {
	model kinematics.Model
	ref   kinematics.Polynomial
	state kinematics.State
}

// NewSimulatedVehicle returns a vehicle starting at initial, whose tracking errors are measured
// against ref.
func NewSimulatedVehicle(model kinematics.Model, ref kinematics.Polynomial, initial kinematics.State) *SimulatedVehicle {
	return &SimulatedVehicle{
		model: model,
		ref:   append(kinematics.Polynomial(nil), ref...),
		state: kinematics.TrackingErrors(initial, ref),
	}
}

// State implements Plant.
func (sv *SimulatedVehicle) State() kinematics.State {
	return sv.state
}

// Advance implements Plant.
func (sv *SimulatedVehicle) Advance(u kinematics.Actuation, dt float64) {
	if dt <= 0 {
		return
	}
	steps := int(math.Ceil(dt / maxIntegrationStep))
	h := dt / float64(steps)
	s := sv.state
	for i := 0; i < steps; i++ {
		s = sv.model.Step(s, u, sv.ref, h)
	}
	sv.state = kinematics.TrackingErrors(s, sv.ref)
}

// Package kinematics implements the discrete-time vehicle models used to predict a trajectory
// over the control horizon.
package kinematics

import (
	"go.viam.com/mpc/utils"
)

// StateDim is the number of components in a State.
const StateDim = 6

// State is the kinematic state of the vehicle at one instant. Positions are in meters, angles in
// radians and speed in meters per second.
type State struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Psi  float64 `json:"psi"`
	V    float64 `json:"v"`
	Cte  float64 `json:"cte"`
	Epsi float64 `json:"epsi"`
}

// StateFromSlice builds a State from [x, y, psi, v, cte, epsi].
func StateFromSlice(values []float64) (State, error) {
	if len(values) != StateDim {
		return State{}, utils.NewIncorrectLengthError("state", len(values), StateDim)
	}
	if idx := utils.FirstNonFinite(values); idx >= 0 {
		return State{}, utils.NewNonFiniteError("state", idx, values[idx])
	}
	return State{values[0], values[1], values[2], values[3], values[4], values[5]}, nil
}

// Slice returns the state as [x, y, psi, v, cte, epsi].
func (s State) Slice() []float64 {
	return []float64{s.X, s.Y, s.Psi, s.V, s.Cte, s.Epsi}
}

// Validate returns an error if any component is NaN or infinite.
func (s State) Validate() error {
	values := s.Slice()
	if idx := utils.FirstNonFinite(values); idx >= 0 {
		return utils.NewNonFiniteError("state", idx, values[idx])
	}
	return nil
}

// Actuation is one steering/acceleration command pair. Steering is in radians, acceleration in
// meters per second squared.
type Actuation struct {
	Steering     float64 `json:"steering"`
	Acceleration float64 `json:"acceleration"`
}

// Point is a planar position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

package mpc

import (
	"time"

	"go.viam.com/mpc/kinematics"
)

// Result is the outcome of one successful solve. Only Steering and Acceleration are meant to be
// applied; the rest of the plan is informational and is recomputed next cycle.
type Result struct {
	// Steering is the first planned steering angle in radians.
	Steering float64 `json:"steering"`
	// Acceleration is the first planned acceleration in meters per second squared.
	Acceleration float64 `json:"acceleration"`
	// Trajectory holds the predicted (x, y) of all N states, starting at the measured position.
	Trajectory []kinematics.Point `json:"trajectory"`

	States     []kinematics.State     `json:"states"`
	Actuations []kinematics.Actuation `json:"actuations"`
	Cost       float64                `json:"cost"`
	Iterations int                    `json:"iterations"`
	Duration   time.Duration          `json:"duration"`
}

// Actuation returns the command to apply now.
func (r Result) Actuation() kinematics.Actuation {
	return kinematics.Actuation{Steering: r.Steering, Acceleration: r.Acceleration}
}

func newResult(states []kinematics.State, actuations []kinematics.Actuation) Result {
	trajectory := make([]kinematics.Point, len(states))
	for i, s := range states {
		trajectory[i] = kinematics.Point{X: s.X, Y: s.Y}
	}
	return Result{
		Steering:     actuations[0].Steering,
		Acceleration: actuations[0].Acceleration,
		Trajectory:   trajectory,
		States:       states,
		Actuations:   actuations,
	}
}

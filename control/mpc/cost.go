package mpc

import (
	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/utils"
)

// A Cost scores a predicted trajectory. states holds the N predicted states and actuations the
// N-1 commands between them. Lower is better.
type Cost interface {
	Evaluate(states []kinematics.State, actuations []kinematics.Actuation) float64
}

// A DifferentiableCost is a Cost that can also report its gradient. Gradient writes the derivative
// of the cost with respect to each field of states and actuations into the same field of
// gradStates and gradActuations, which have the same lengths as states and actuations.
type DifferentiableCost interface {
	Cost
	Gradient(states []kinematics.State, actuations []kinematics.Actuation, gradStates []kinematics.State, gradActuations []kinematics.Actuation)
}

// A CostFactory builds the Cost for one solve from that solve's weights and the controller's
// reference speed in meters per second.
type CostFactory func(weights CostWeights, referenceSpeed float64) Cost

// WeightedCost is the quadratic tracking cost:
//
//	sum over states      w_cte*cte^2 + w_epsi*epsi^2 + w_v*(v - v_ref)^2
//	sum over actuations  w_steer*steer^2 + w_accel*accel^2
//	sum over neighbours  w_steer_rate*(steer' - steer)^2 + w_accel_rate*(accel' - accel)^2
type WeightedCost struct {
	Weights        CostWeights
	ReferenceSpeed float64
}

// NewWeightedCost is the default CostFactory.
func NewWeightedCost(weights CostWeights, referenceSpeed float64) Cost {
	return &WeightedCost{Weights: weights, ReferenceSpeed: referenceSpeed}
}

// Evaluate implements Cost.
func (c *WeightedCost) Evaluate(states []kinematics.State, actuations []kinematics.Actuation) float64 {
	w := c.Weights
	cost := 0.
	for _, s := range states {
		cost += w.Cte*utils.Square(s.Cte) + w.Epsi*utils.Square(s.Epsi) + w.Velocity*utils.Square(s.V-c.ReferenceSpeed)
	}
	for _, u := range actuations {
		cost += w.Steering*utils.Square(u.Steering) + w.Acceleration*utils.Square(u.Acceleration)
	}
	for t := 1; t < len(actuations); t++ {
		cost += w.SteeringRate*utils.Square(actuations[t].Steering-actuations[t-1].Steering) +
			w.AccelerationRate*utils.Square(actuations[t].Acceleration-actuations[t-1].Acceleration)
	}
	return cost
}

// Gradient implements DifferentiableCost.
func (c *WeightedCost) Gradient(
	states []kinematics.State,
	actuations []kinematics.Actuation,
	gradStates []kinematics.State,
	gradActuations []kinematics.Actuation,
) {
	w := c.Weights
	for t, s := range states {
		gradStates[t] = kinematics.State{
			V:    2 * w.Velocity * (s.V - c.ReferenceSpeed),
			Cte:  2 * w.Cte * s.Cte,
			Epsi: 2 * w.Epsi * s.Epsi,
		}
	}
	for t, u := range actuations {
		gradActuations[t] = kinematics.Actuation{
			Steering:     2 * w.Steering * u.Steering,
			Acceleration: 2 * w.Acceleration * u.Acceleration,
		}
	}
	for t := 1; t < len(actuations); t++ {
		dSteering := 2 * w.SteeringRate * (actuations[t].Steering - actuations[t-1].Steering)
		dAcceleration := 2 * w.AccelerationRate * (actuations[t].Acceleration - actuations[t-1].Acceleration)
		gradActuations[t].Steering += dSteering
		gradActuations[t-1].Steering -= dSteering
		gradActuations[t].Acceleration += dAcceleration
		gradActuations[t-1].Acceleration -= dAcceleration
	}
}

package mpc

import (
	"github.com/pkg/errors"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/utils"
)

// NumCostTerms is the number of weighted terms in the tracking cost.
const NumCostTerms = config.NumWeights

// CostWeights scale each term of the tracking cost. All weights must be finite and non-negative.
type CostWeights struct {
	Cte              float64 `json:"cte"`
	Epsi             float64 `json:"epsi"`
	Velocity         float64 `json:"velocity"`
	Steering         float64 `json:"steering"`
	Acceleration     float64 `json:"acceleration"`
	SteeringRate     float64 `json:"steering_rate"`
	AccelerationRate float64 `json:"acceleration_rate"`
}

// CostTermNames names the cost terms in WeightsFromSlice order, matching the JSON field names.
var CostTermNames = []string{
	"cte", "epsi", "velocity", "steering", "acceleration", "steering_rate", "acceleration_rate",
}

// WeightsFromSlice builds CostWeights from exactly seven values in the order cte, epsi, velocity,
// steering, acceleration, steering rate, acceleration rate.
func WeightsFromSlice(values []float64) (CostWeights, error) {
	if len(values) != NumCostTerms {
		return CostWeights{}, utils.NewIncorrectLengthError("weights", len(values), NumCostTerms)
	}
	w := CostWeights{
		Cte:              values[0],
		Epsi:             values[1],
		Velocity:         values[2],
		Steering:         values[3],
		Acceleration:     values[4],
		SteeringRate:     values[5],
		AccelerationRate: values[6],
	}
	return w, w.Validate()
}

// Slice returns the weights in WeightsFromSlice order.
func (w CostWeights) Slice() []float64 {
	return []float64{w.Cte, w.Epsi, w.Velocity, w.Steering, w.Acceleration, w.SteeringRate, w.AccelerationRate}
}

// Validate returns an error if any weight is negative, NaN or infinite.
func (w CostWeights) Validate() error {
	for i, v := range w.Slice() {
		if !utils.IsFinite(v) {
			return utils.NewNonFiniteError("weights", i, v)
		}
		if v < 0 {
			return errors.Errorf("weights[%d] must be non-negative, got %v", i, v)
		}
	}
	return nil
}

// With returns a copy of w with the named term set to value.
func (w CostWeights) With(term string, value float64) (CostWeights, error) {
	values := w.Slice()
	for i, name := range CostTermNames {
		if name == term {
			values[i] = value
			return WeightsFromSlice(values)
		}
	}
	return CostWeights{}, errors.Errorf("unknown cost term %q, expected one of %v", term, CostTermNames)
}

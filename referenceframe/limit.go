// Package referenceframe describes the admissible range of each decision variable in an
// optimization problem.
package referenceframe

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/mpc/utils"
)

// OOBErrString is a string that all OOB errors should contain, so that they can be checked for
// distinct from other errors.
const OOBErrString = "input out of bounds"

// Limit represents the admissible closed interval for one variable.
type Limit struct {
	Min float64
	Max float64
}

// Unbounded returns a Limit spanning the whole real line.
func Unbounded() Limit {
	return Limit{Min: math.Inf(-1), Max: math.Inf(1)}
}

// Fixed returns a Limit that pins a variable to exactly value.
func Fixed(value float64) Limit {
	return Limit{Min: value, Max: value}
}

// Symmetric returns [-bound, bound].
func Symmetric(bound float64) Limit {
	return Limit{Min: -bound, Max: bound}
}

// IsFixed reports whether the limit admits exactly one value.
func (l Limit) IsFixed() bool {
	return l.Min == l.Max
}

// Contains reports whether value lies within the limit.
func (l Limit) Contains(value float64) bool {
	return value >= l.Min && value <= l.Max
}

// Validate returns an error if the limit is empty or contains a NaN.
func (l Limit) Validate() error {
	if math.IsNaN(l.Min) || math.IsNaN(l.Max) {
		return errors.New("limit contains NaN")
	}
	if l.Min > l.Max {
		return errors.Errorf("limit is empty: min %v > max %v", l.Min, l.Max)
	}
	if math.IsInf(l.Min, 1) || math.IsInf(l.Max, -1) {
		return errors.Errorf("limit [%v, %v] admits no finite value", l.Min, l.Max)
	}
	return nil
}

// NewOutOfBoundsError is returned when a value falls outside its limit.
func NewOutOfBoundsError(idx int, value float64, limit Limit) error {
	return errors.Errorf("%s: variable %d = %v outside [%v, %v]", OOBErrString, idx, value, limit.Min, limit.Max)
}

// CheckInputs returns an error for the first value that falls outside its limit.
func CheckInputs(values []float64, limits []Limit) error {
	if len(values) != len(limits) {
		return utils.NewIncorrectLengthError("values", len(values), len(limits))
	}
	for i, v := range values {
		if !limits[i].Contains(v) {
			return NewOutOfBoundsError(i, v, limits[i])
		}
	}
	return nil
}

// LimitsToArrays splits limits into the lower and upper bound slices most solvers expect.
func LimitsToArrays(limits []Limit) ([]float64, []float64) {
	lower := make([]float64, 0, len(limits))
	upper := make([]float64, 0, len(limits))
	for _, limit := range limits {
		lower = append(lower, limit.Min)
		upper = append(upper, limit.Max)
	}
	return lower, upper
}

// LimitsAlmostEqual compares two slices of limits with a fixed tolerance.
func LimitsAlmostEqual(a, b []Limit) bool {
	if len(a) != len(b) {
		return false
	}

	const epsilon = 1e-5
	for idx, x := range a {
		if !utils.Float64AlmostEqual(x.Min, b[idx].Min, epsilon) ||
			!utils.Float64AlmostEqual(x.Max, b[idx].Max, epsilon) {
			return false
		}
	}

	return true
}

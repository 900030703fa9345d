package kinematics

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/mpc/utils"
)

// Polynomial is a reference path y = f(x) given by its coefficients in ascending order of power,
// so Polynomial{c0, c1, c2, c3} is c0 + c1*x + c2*x^2 + c3*x^3.
type Polynomial []float64

// Validate returns an error for an empty polynomial or a non-finite coefficient.
func (p Polynomial) Validate() error {
	if len(p) == 0 {
		return errors.New("reference polynomial needs at least one coefficient")
	}
	if idx := utils.FirstNonFinite(p); idx >= 0 {
		return utils.NewNonFiniteError("coefficients", idx, p[idx])
	}
	return nil
}

// Eval evaluates the polynomial at x using Horner's method.
func (p Polynomial) Eval(x float64) float64 {
	result := 0.
	for i := len(p) - 1; i >= 0; i-- {
		result = result*x + p[i]
	}
	return result
}

// Derivative evaluates f'(x).
func (p Polynomial) Derivative(x float64) float64 {
	result := 0.
	for i := len(p) - 1; i >= 1; i-- {
		result = result*x + float64(i)*p[i]
	}
	return result
}

// SecondDerivative evaluates f''(x).
func (p Polynomial) SecondDerivative(x float64) float64 {
	result := 0.
	for i := len(p) - 1; i >= 2; i-- {
		result = result*x + float64(i*(i-1))*p[i]
	}
	return result
}

// DesiredHeading is the heading of the path tangent at x.
func (p Polynomial) DesiredHeading(x float64) float64 {
	return math.Atan(p.Derivative(x))
}

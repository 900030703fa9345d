// Package utils contains small numeric helpers and the speed unit conversions used at the
// controller's boundary.
package utils

import (
	"math"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Square is faster than math.Pow(n, 2).
func Square(n float64) float64 {
	return n * n
}

// Float64AlmostEqual compares two float64s and returns if the difference between them is less
// than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// IsFinite reports whether f is neither NaN nor an infinity.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FirstNonFinite returns the index of the first NaN or infinite value in values, or -1.
func FirstNonFinite(values []float64) int {
	for i, v := range values {
		if !IsFinite(v) {
			return i
		}
	}
	return -1
}

package utils

import (
	"github.com/pkg/errors"
)

// NewIncorrectLengthError is returned when a vector argument does not have the expected number of
// components.
func NewIncorrectLengthError(name string, actual, expected int) error {
	return errors.Errorf("%s has %d components, expected %d", name, actual, expected)
}

// NewNonFiniteError is returned when a vector argument contains a NaN or infinite value.
func NewNonFiniteError(name string, idx int, value float64) error {
	return errors.Errorf("%s[%d] is not finite (%v)", name, idx, value)
}

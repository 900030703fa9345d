//go:build windows || no_cgo

package nlp

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/mpc/logging"
)

// Nlopt mimics the type in the cgo compiled code.
type Nlopt struct{}

// NewNlopt is not supported on no_cgo builds.
func NewNlopt(settings Settings, logger logging.Logger) (*Nlopt, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Solve refuses to solve problems without cgo.
func (n *Nlopt) Solve(ctx context.Context, problem *Problem, seed []float64) (*Solution, error) {
	return nil, errors.New("cannot solve with nlopt without cgo")
}

package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/mpc/control/mpc"
)

// SolveRequest is the input of the solve command. State holds the six components in the order
// x, y, psi, v, cte, epsi and Weights the seven weights in mpc.CostTermNames order. Weights default
// to the config's.
type SolveRequest struct {
	State        []float64 `json:"state"`
	Coefficients []float64 `json:"coefficients"`
	Weights      []float64 `json:"weights,omitempty"`
}

// SolveAction solves once and prints the result as JSON.
func SolveAction(c *cli.Context) error {
	logger, closeLogs, err := newLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}

	var in io.Reader = c.App.Reader
	if path := c.Path(solveFlagInput); path != "" {
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "cannot open %q", path)
		}
		defer func() {
			//nolint:errcheck
			f.Close()
		}()
		in = f
	}
	if in == nil {
		in = os.Stdin
	}
	var req SolveRequest
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return errors.Wrap(err, "cannot parse solve request")
	}

	controller, err := mpc.New(cfg, logger.Sublogger("mpc"))
	if err != nil {
		return err
	}
	weights := req.Weights
	if weights == nil {
		defaults, err := controller.DefaultWeights()
		if err != nil {
			return err
		}
		weights = defaults.Slice()
	}
	result, err := controller.SolveVectors(solveContext(c), req.State, req.Coefficients, weights)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}

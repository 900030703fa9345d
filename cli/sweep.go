package cli

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/mpc/control"
	"go.viam.com/mpc/control/mpc"
	"go.viam.com/mpc/utils"
)

// SweepRun is the outcome of one simulation in a sweep.
type SweepRun struct {
	Weight  float64         `json:"weight"`
	RunID   string          `json:"run_id"`
	Summary control.Summary `json:"summary"`
	Error   string          `json:"error,omitempty"`
}

// SweepAction runs one simulation per value of a single cost weight, keeping every other weight at
// its configured value, and prints the summaries side by side. Runs that fail are reported rather
// than aborting the sweep.
func SweepAction(c *cli.Context) error {
	logger, closeLogs, err := newLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	ref, err := parseFloats(c.String(simulateFlagRef))
	if err != nil {
		return errors.Wrapf(err, "bad --%s", simulateFlagRef)
	}
	values, err := parseFloats(c.String(sweepFlagValues))
	if err != nil {
		return errors.Wrapf(err, "bad --%s", sweepFlagValues)
	}
	base, err := mpc.WeightsFromSlice(cfg.Weights)
	if err != nil {
		return err
	}
	term := c.String(sweepFlagTerm)
	loops := make([]*control.Loop, len(values))
	for i, v := range values {
		weights, err := base.With(term, v)
		if err != nil {
			return err
		}
		// one controller per run
		if loops[i], err = newSimulation(c, cfg, logger.Sublogger(fmt.Sprintf("%s=%g", term, v)), ref, weights); err != nil {
			return err
		}
	}

	runs := make([]SweepRun, len(values))
	g, ctx := errgroup.WithContext(solveContext(c))
	g.SetLimit(max(1, c.Int(sweepFlagParallel)))
	for i := range loops {
		i := i
		g.Go(func() error {
			report, err := loops[i].Run(ctx)
			runs[i] = SweepRun{Weight: values[i], RunID: report.RunID, Summary: report.Summary}
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				runs[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.Bool(simulateFlagJSON) {
		out, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s", out)
		return nil
	}
	printf(c.App.Writer, "%s", sweepTable(term, runs))
	return nil
}

func sweepTable(term string, runs []SweepRun) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{term, "Failures", "Mean |CTE|", "Max |CTE|", "Mean |EPSI| (deg)", "Mean speed (mph)", "P95 solve", "Error"})
	t.AppendRows(lo.Map(runs, func(r SweepRun, _ int) table.Row {
		return table.Row{
			fmt.Sprintf("%g", r.Weight),
			r.Summary.Failures,
			fmt.Sprintf("%.4f", r.Summary.MeanAbsCte),
			fmt.Sprintf("%.4f", r.Summary.MaxAbsCte),
			fmt.Sprintf("%.3f", utils.RadToDeg(r.Summary.MeanAbsEpsi)),
			fmt.Sprintf("%.2f", r.Summary.MeanSpeedMPH),
			r.Summary.P95SolveTime,
			r.Error,
		}
	}))
	return t.Render()
}

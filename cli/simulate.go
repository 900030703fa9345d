package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/control"
	"go.viam.com/mpc/control/mpc"
	"go.viam.com/mpc/kinematics"
	"go.viam.com/mpc/logging"
	"go.viam.com/mpc/utils"
)

// SimulateAction runs the controller against a simulated vehicle and reports how it tracked.
func SimulateAction(c *cli.Context) error {
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
	weights, err := mpc.WeightsFromSlice(cfg.Weights)
	if err != nil {
		return err
	}
	loop, err := newSimulation(c, cfg, logger, ref, weights)
	if err != nil {
		return err
	}

	report, runErr := loop.Run(solveContext(c))
	if report == nil {
		return runErr
	}
	if path := c.Path(simulateFlagCSV); path != "" {
		if err := writeRecordsCSVFile(path, report.Records); err != nil {
			return multierr.Combine(runErr, err)
		}
	}
	if path := c.Path(simulateFlagPlot); path != "" {
		if err := plotRun(path, kinematics.Polynomial(ref), report); err != nil {
			return multierr.Combine(runErr, err)
		}
	}
	if c.Bool(simulateFlagJSON) {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return multierr.Combine(runErr, err)
		}
		printf(c.App.Writer, "%s", out)
		return runErr
	}
	printf(c.App.Writer, "%s", recordsTable(report.Records, c.Int(simulateFlagEvery)))
	printf(c.App.Writer, "%s", summaryTable(report.Summary))
	if c.Bool(simulateFlagHistogram) {
		if err := printSolveTimeHistogram(c.App.Writer, report.Records); err != nil {
			return multierr.Combine(runErr, err)
		}
	}
	return runErr
}

// newSimulation builds a controller and a simulated vehicle from the simulation flags and ties
// them together in a loop.
func newSimulation(
	c *cli.Context,
	cfg *config.Config,
	logger logging.Logger,
	ref []float64,
	weights mpc.CostWeights,
) (*control.Loop, error) {
	controller, err := mpc.New(cfg, logger.Sublogger("mpc"))
	if err != nil {
		return nil, err
	}
	bicycle, err := kinematics.NewBicycle(cfg.Vehicle.Lf)
	if err != nil {
		return nil, err
	}
	vehicle := control.NewSimulatedVehicle(bicycle, ref, kinematics.State{
		Y:   c.Float64(simulateFlagY),
		Psi: c.Float64(simulateFlagPsi),
		V:   utils.MPHToMPS(c.Float64(simulateFlagSpeed)),
	})
	return control.NewLoop(logger.Sublogger("loop"), control.Config{
		Frequency:         c.Float64(simulateFlagFrequency),
		Cycles:            c.Int(simulateFlagCycles),
		LatencySec:        c.Float64(simulateFlagLatency),
		FailurePolicy:     control.FailurePolicy(c.String(simulateFlagPolicy)),
		BrakeAcceleration: c.Float64(simulateFlagBrake),
		RealTime:          c.Bool(simulateFlagRealTime),
	}, vehicle, controller, ref, weights)
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func recordsTable(records []control.Record, every int) string {
	if every < 1 {
		every = 1
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Cycle", "T (s)", "X", "Y", "CTE", "EPSI (deg)", "Speed (mph)", "Steer (deg)", "Accel", "Solve (ms)", "Note"})
	shown := lo.Filter(records, func(r control.Record, i int) bool {
		return i%every == 0 || i == len(records)-1
	})
	t.AppendRows(lo.Map(shown, func(r control.Record, _ int) table.Row {
		return table.Row{
			r.Cycle,
			fmt.Sprintf("%.2f", r.Time.Seconds()),
			fmt.Sprintf("%.2f", r.State.X),
			fmt.Sprintf("%.3f", r.State.Y),
			fmt.Sprintf("%.3f", r.State.Cte),
			fmt.Sprintf("%.2f", utils.RadToDeg(r.State.Epsi)),
			fmt.Sprintf("%.1f", utils.MPSToMPH(r.State.V)),
			fmt.Sprintf("%.2f", utils.RadToDeg(r.Command.Steering)),
			fmt.Sprintf("%.3f", r.Command.Acceleration),
			fmt.Sprintf("%.1f", float64(r.SolveTime.Microseconds())/1000),
			lo.Ternary(r.Failure == "", "", "failed"),
		}
	}))
	return t.Render()
}

func summaryTable(s control.Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"cycles", s.Cycles},
		{"failures", s.Failures},
		{"mean |cte| (m)", fmt.Sprintf("%.4f", s.MeanAbsCte)},
		{"max |cte| (m)", fmt.Sprintf("%.4f", s.MaxAbsCte)},
		{"mean |epsi| (deg)", fmt.Sprintf("%.3f", utils.RadToDeg(s.MeanAbsEpsi))},
		{"mean speed (mph)", fmt.Sprintf("%.2f", s.MeanSpeedMPH)},
		{"mean solve time", s.MeanSolveTime},
		{"p95 solve time", s.P95SolveTime},
		{"max solve time", s.MaxSolveTime},
	})
	return t.Render()
}

const histogramBins = 10

// printSolveTimeHistogram prints how solve times in milliseconds are distributed over the run.
func printSolveTimeHistogram(w io.Writer, records []control.Record) error {
	if len(records) == 0 {
		return nil
	}
	times := lo.Map(records, func(r control.Record, _ int) float64 {
		return float64(r.SolveTime.Microseconds()) / 1000
	})
	printf(w, "solve time (ms)")
	return histogram.Fprint(w, histogram.Hist(histogramBins, times), histogram.Linear(40))
}

var csvHeader = []string{"cycle", "time_sec", "x", "y", "psi", "v", "cte", "epsi", "steering", "acceleration", "solve_time_ms", "failure"}

func writeRecordsCSVFile(path string, records []control.Record) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return writeRecordsCSV(f, records)
}

func writeRecordsCSV(w io.Writer, records []control.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	format := func(v float64) string {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	for _, r := range records {
		row := []string{strconv.Itoa(r.Cycle), format(r.Time.Seconds())}
		row = append(row, lo.Map(r.State.Slice(), func(v float64, _ int) string { return format(v) })...)
		row = append(row,
			format(r.Command.Steering),
			format(r.Command.Acceleration),
			format(float64(r.SolveTime.Microseconds())/1000),
			r.Failure,
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// plotRun draws the reference path, the driven path and the last predicted trajectory.
func plotRun(path string, ref kinematics.Polynomial, report *control.Report) error {
	p := plot.New()
	p.Title.Text = "MPC path tracking"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	driven := lo.Map(report.Records, func(r control.Record, _ int) plotter.XY {
		return plotter.XY{X: r.State.X, Y: r.State.Y}
	})
	driven = append(driven, plotter.XY{X: report.Final.X, Y: report.Final.Y})
	drivenLine, err := plotter.NewLine(plotter.XYs(driven))
	if err != nil {
		return err
	}
	drivenLine.Color = color.RGBA{R: 200, A: 255}
	drivenLine.Width = vg.Points(1.5)
	p.Add(drivenLine)
	p.Legend.Add("driven", drivenLine)

	reference := plotter.NewFunction(ref.Eval)
	reference.Color = color.RGBA{B: 200, A: 255}
	reference.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	reference.Width = vg.Points(1)
	p.Add(reference)
	p.Legend.Add("reference", reference)

	withPlan := lo.Filter(report.Records, func(r control.Record, _ int) bool { return len(r.Predicted) > 1 })
	if len(withPlan) > 0 {
		last := withPlan[len(withPlan)-1]
		planned := lo.Map(last.Predicted, func(pt kinematics.Point, _ int) plotter.XY {
			return plotter.XY{X: pt.X, Y: pt.Y}
		})
		plannedLine, err := plotter.NewLine(plotter.XYs(planned))
		if err != nil {
			return err
		}
		plannedLine.Color = color.RGBA{G: 160, A: 255}
		plannedLine.Width = vg.Points(1)
		p.Add(plannedLine)
		p.Legend.Add("last plan", plannedLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.X.Min, p.X.Max = drivenLine.XYs[0].X, drivenLine.XYs[len(drivenLine.XYs)-1].X
	if p.X.Max <= p.X.Min {
		p.X.Max = p.X.Min + 1
	}

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

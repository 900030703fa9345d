// Package cli contains all business logic needed by the mpcsim CLI.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/mpc/config"
	"go.viam.com/mpc/control/mpc"
	"go.viam.com/mpc/logging"
)

const (
	// Flags.
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagTrace   = "trace-solves"
	generalFlagSet     = "set"
	generalFlagLogFile = "log-file"
	generalFlagLevel   = "log-level"

	simulateFlagCycles    = "cycles"
	simulateFlagFrequency = "frequency"
	simulateFlagLatency   = "latency"
	simulateFlagPolicy    = "failure-policy"
	simulateFlagBrake     = "brake-acceleration"
	simulateFlagRealTime  = "real-time"
	simulateFlagY         = "y"
	simulateFlagPsi       = "psi"
	simulateFlagSpeed     = "speed-mph"
	simulateFlagRef       = "ref"
	simulateFlagCSV       = "csv"
	simulateFlagPlot      = "plot"
	simulateFlagJSON      = "json"
	simulateFlagEvery     = "every"
	simulateFlagHistogram = "histogram"

	sweepFlagTerm     = "term"
	sweepFlagValues   = "values"
	sweepFlagParallel = "parallel"

	solveFlagInput = "input"
)

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "mpcsim",
		Usage:           "run the steering MPC in simulation",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringSliceFlag{
				Name:  generalFlagSet,
				Usage: "override a config field, e.g. --set horizon.steps=12",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagLevel,
				Value: "warn",
				Usage: "minimum level logged: debug, info, warn or error",
			},
			&cli.PathFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to `FILE`, rotating it as it grows",
			},
			&cli.BoolFlag{
				Name:  generalFlagTrace,
				Usage: "log every solve and cycle without enabling debug logging elsewhere",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "simulate",
				Usage:     "drive a simulated vehicle along a reference path",
				UsageText: "mpcsim simulate [options]",
				Flags: append(simulationFlags(),
					&cli.IntFlag{Name: simulateFlagEvery, Value: 1, Usage: "print every Nth cycle"},
					&cli.PathFlag{Name: simulateFlagCSV, Usage: "write per-cycle records to `FILE`"},
					&cli.PathFlag{Name: simulateFlagPlot, Usage: "write a PNG of the driven path to `FILE`"},
					&cli.BoolFlag{Name: simulateFlagHistogram, Usage: "print a histogram of solve times"},
					&cli.BoolFlag{Name: simulateFlagJSON, Usage: "print the report as JSON instead of a table"},
				),
				Action: SimulateAction,
			},
			{
				Name:      "sweep",
				Usage:     "run one simulation per value of a cost weight and compare them",
				UsageText: "mpcsim sweep --term cte --values 1,10,100 [options]",
				Flags: append(simulationFlags(),
					&cli.StringFlag{
						Name:     sweepFlagTerm,
						Required: true,
						Usage:    "cost term to vary, one of " + strings.Join(mpc.CostTermNames, ", "),
					},
					&cli.StringFlag{Name: sweepFlagValues, Required: true, Usage: "comma separated weights to try"},
					&cli.IntFlag{Name: sweepFlagParallel, Value: 4, Usage: "number of simulations to run at once"},
					&cli.BoolFlag{Name: simulateFlagJSON, Usage: "print the summaries as JSON instead of a table"},
				),
				Action: SweepAction,
			},
			{
				Name:      "solve",
				Usage:     "solve once for a JSON request and print the result",
				UsageText: "mpcsim solve [--input FILE]",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: solveFlagInput, Usage: "read the request from `FILE` instead of stdin"},
				},
				Action: SolveAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the config file",
				Action: SchemaAction,
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// newLogger returns the command's logger and a function that closes its log file, if any.
func newLogger(c *cli.Context) (logging.Logger, func(), error) {
	level := logging.DEBUG
	if !c.Bool(generalFlagDebug) {
		var err error
		if level, err = logging.LevelFromString(c.String(generalFlagLevel)); err != nil {
			return nil, nil, errors.Wrapf(err, "bad --%s", generalFlagLevel)
		}
	}
	logger := logging.NewLogger("mpcsim")
	logger.SetLevel(level)
	path := c.Path(generalFlagLogFile)
	if path == "" {
		return logger, func() {}, nil
	}
	file := logging.NewFileAppender(path)
	logger.AddAppender(file)
	return logger, func() {
		utils.UncheckedErrorFunc(file.Close)
	}, nil
}

// simulationFlags are the flags describing a closed-loop run, shared by simulate and sweep.
func simulationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: simulateFlagCycles, Value: 50, Usage: "number of control cycles"},
		&cli.Float64Flag{Name: simulateFlagFrequency, Value: 10, Usage: "control rate in Hz"},
		&cli.Float64Flag{Name: simulateFlagLatency, Value: 0.1, Usage: "actuator latency in seconds"},
		&cli.StringFlag{
			Name:  simulateFlagPolicy,
			Value: "hold",
			Usage: "what to command when a solve fails: hold, brake or abort",
		},
		&cli.Float64Flag{Name: simulateFlagBrake, Value: -1, Usage: "acceleration commanded by the brake policy"},
		&cli.BoolFlag{Name: simulateFlagRealTime, Usage: "pace cycles with the wall clock"},
		&cli.Float64Flag{Name: simulateFlagY, Value: 1, Usage: "initial lateral position in meters"},
		&cli.Float64Flag{Name: simulateFlagPsi, Usage: "initial heading in radians"},
		&cli.Float64Flag{Name: simulateFlagSpeed, Value: 30, Usage: "initial speed in mph"},
		&cli.StringFlag{
			Name:  simulateFlagRef,
			Value: "0,0,0,0",
			Usage: "reference polynomial coefficients in ascending order",
		},
	}
}

// solveContext marks the command's context for debug logging of solves when --trace-solves is set.
func solveContext(c *cli.Context) context.Context {
	if c.Bool(generalFlagTrace) {
		return logging.EnableDebugMode(c.Context, "")
	}
	return c.Context
}

// loadConfig reads --config, or starts from the defaults, then applies --set overrides.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(generalFlagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	}
	overrides, err := parseOverrides(c.StringSlice(generalFlagSet))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseOverrides turns key=value pairs into a map. The flag parser splits values on commas, so a
// piece without '=' continues the value of the pair before it.
func parseOverrides(pairs []string) (map[string]string, error) {
	overrides := make(map[string]string, len(pairs))
	lastKey := ""
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok && lastKey != "" {
			overrides[lastKey] += "," + strings.TrimSpace(pair)
			continue
		}
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("override %q is not of the form key=value", pair)
		}
		overrides[key] = strings.TrimSpace(value)
		lastKey = key
	}
	return overrides, nil
}

// SchemaAction prints the config JSON schema.
func SchemaAction(c *cli.Context) error {
	schema, err := config.Schema()
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", schema)
	return nil
}

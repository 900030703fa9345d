// Package config defines the process-wide controller configuration: horizon, actuator bounds,
// vehicle constants and solver limits.
package config

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	rutils "go.viam.com/mpc/utils"
)

// Solver backends.
const (
	BackendAugLag = "auglag"
	BackendNlopt  = "nlopt"
)

// NumWeights is the number of cost terms, and so the number of weights, the controller uses.
const NumWeights = 7

// A Config describes the controller. It is fixed for the lifetime of a controller.
type Config struct {
	Horizon HorizonConfig `json:"horizon"`
	Bounds  BoundsConfig  `json:"bounds"`
	Vehicle VehicleConfig `json:"vehicle"`
	Solver  SolverConfig  `json:"solver"`

	// Weights are the default cost weights used by tools that do not supply their own, in the
	// order cte, epsi, velocity, steering, acceleration, steering rate, acceleration rate.
	Weights []float64 `json:"weights,omitempty" jsonschema:"minItems=7,maxItems=7"`

	ConfigFilePath string `json:"-"`
}

// HorizonConfig sets how far ahead the controller plans.
type HorizonConfig struct {
	Steps           int     `json:"steps" jsonschema:"minimum=2"`
	StepDurationSec float64 `json:"step_duration_sec" jsonschema:"minimum=0"`
}

// BoundsConfig holds the actuator limits.
type BoundsConfig struct {
	MaxSteeringDeg  float64 `json:"max_steering_deg" jsonschema:"minimum=0,maximum=90"`
	MinAcceleration float64 `json:"min_acceleration"`
	MaxAcceleration float64 `json:"max_acceleration"`
}

// VehicleConfig holds the physical constants of the vehicle.
type VehicleConfig struct {
	Lf                float64 `json:"lf" jsonschema:"minimum=0"`
	ReferenceSpeedMPH float64 `json:"reference_speed_mph" jsonschema:"minimum=0"`
}

// SolverConfig bounds the work of one solve.
type SolverConfig struct {
	Backend         string  `json:"backend" jsonschema:"enum=auglag,enum=nlopt"`
	MaxIterations   int     `json:"max_iterations" jsonschema:"minimum=0"`
	Tolerance       float64 `json:"tolerance" jsonschema:"minimum=0"`
	MaxSolveTimeSec float64 `json:"max_solve_time_sec,omitempty" jsonschema:"minimum=0"`
	WarmStart       bool    `json:"warm_start,omitempty"`
}

// Default returns the configuration the controller is tuned for: one second of lookahead in ten
// steps, 25 degrees of steering and 1 m/s^2 of acceleration either way at 40 mph.
func Default() *Config {
	return &Config{
		Horizon: HorizonConfig{
			Steps:           10,
			StepDurationSec: 0.1,
		},
		Bounds: BoundsConfig{
			MaxSteeringDeg:  25,
			MinAcceleration: -1,
			MaxAcceleration: 1,
		},
		Vehicle: VehicleConfig{
			Lf:                2.67,
			ReferenceSpeedMPH: 40,
		},
		Solver: SolverConfig{
			Backend:       BackendAugLag,
			MaxIterations: 5000,
			Tolerance:     1e-6,
		},
		Weights: []float64{100, 100, 1, 5, 5, 200, 10},
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if err := c.Horizon.Validate(joinPath(path, "horizon")); err != nil {
		return err
	}
	if err := c.Bounds.Validate(joinPath(path, "bounds")); err != nil {
		return err
	}
	if err := c.Vehicle.Validate(joinPath(path, "vehicle")); err != nil {
		return err
	}
	if err := c.Solver.Validate(joinPath(path, "solver")); err != nil {
		return err
	}
	if len(c.Weights) == 0 {
		return nil
	}
	if len(c.Weights) != NumWeights {
		return utils.NewConfigValidationError(path, rutils.NewIncorrectLengthError("weights", len(c.Weights), NumWeights))
	}
	for i, w := range c.Weights {
		if !rutils.IsFinite(w) || w < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("weights[%d] must be a non-negative number, got %v", i, w))
		}
	}
	return nil
}

// Validate ensures the horizon is long enough to have a rate term and moves forward in time.
func (c HorizonConfig) Validate(path string) error {
	if c.Steps == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "steps")
	}
	if c.Steps < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("steps must be at least 2, got %d", c.Steps))
	}
	if c.StepDurationSec == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "step_duration_sec")
	}
	if !rutils.IsFinite(c.StepDurationSec) || c.StepDurationSec < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("step_duration_sec must be positive, got %v", c.StepDurationSec))
	}
	return nil
}

// Lookahead is the time covered by the horizon.
func (c HorizonConfig) Lookahead() time.Duration {
	return time.Duration(float64(c.Steps) * c.StepDurationSec * float64(time.Second))
}

// Validate ensures the actuator ranges are non-empty and finite.
func (c BoundsConfig) Validate(path string) error {
	if !rutils.IsFinite(c.MaxSteeringDeg) || c.MaxSteeringDeg <= 0 || c.MaxSteeringDeg > 90 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_steering_deg must be in (0, 90], got %v", c.MaxSteeringDeg))
	}
	if !rutils.IsFinite(c.MinAcceleration) || !rutils.IsFinite(c.MaxAcceleration) {
		return utils.NewConfigValidationError(path, errors.New("acceleration bounds must be finite"))
	}
	if c.MinAcceleration > c.MaxAcceleration {
		return utils.NewConfigValidationError(path, errors.Errorf(
			"min_acceleration %v is greater than max_acceleration %v", c.MinAcceleration, c.MaxAcceleration))
	}
	return nil
}

// MaxSteering returns the steering limit in radians.
func (c BoundsConfig) MaxSteering() float64 {
	return rutils.DegToRad(c.MaxSteeringDeg)
}

// Validate ensures the vehicle constants are physical.
func (c VehicleConfig) Validate(path string) error {
	if c.Lf == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "lf")
	}
	if !rutils.IsFinite(c.Lf) || c.Lf < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("lf must be positive, got %v", c.Lf))
	}
	if !rutils.IsFinite(c.ReferenceSpeedMPH) || c.ReferenceSpeedMPH < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("reference_speed_mph must be non-negative, got %v", c.ReferenceSpeedMPH))
	}
	return nil
}

// ReferenceSpeed returns the target cruising speed in meters per second.
func (c VehicleConfig) ReferenceSpeed() float64 {
	return rutils.MPHToMPS(c.ReferenceSpeedMPH)
}

// Validate ensures the solver limits are usable.
func (c SolverConfig) Validate(path string) error {
	switch c.Backend {
	case "", BackendAugLag, BackendNlopt:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown backend %q", c.Backend))
	}
	if c.MaxIterations < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_iterations must be non-negative, got %d", c.MaxIterations))
	}
	if !rutils.IsFinite(c.Tolerance) || c.Tolerance < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("tolerance must be finite and non-negative, got %v", c.Tolerance))
	}
	if !rutils.IsFinite(c.MaxSolveTimeSec) || c.MaxSolveTimeSec < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_solve_time_sec must be non-negative, got %v", c.MaxSolveTimeSec))
	}
	return nil
}

// MaxSolveTime returns the solve time cap, zero meaning none.
func (c SolverConfig) MaxSolveTime() time.Duration {
	return time.Duration(c.MaxSolveTimeSec * float64(time.Second))
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

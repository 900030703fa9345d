package control

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/mpc/utils"
)

// FailurePolicy decides what the loop commands when a solve fails.
type FailurePolicy string

// Failure policies.
const (
	// HoldLastCommand reissues the previous command.
	HoldLastCommand FailurePolicy = "hold"
	// Brake keeps the previous steering and commands Config.BrakeAcceleration.
	Brake FailurePolicy = "brake"
	// Abort stops the loop and returns the solve error.
	Abort FailurePolicy = "abort"
)

// Config describes a closed loop run.
type Config struct {
	// Frequency is the control rate in Hz, at most 200.
	Frequency float64 `json:"frequency_hz"`
	// Cycles is the number of control cycles to run.
	Cycles int `json:"cycles"`
	// LatencySec delays every command by this long before the plant sees it.
	LatencySec        float64       `json:"latency_sec,omitempty"`
	FailurePolicy     FailurePolicy `json:"failure_policy,omitempty"`
	BrakeAcceleration float64       `json:"brake_acceleration,omitempty"`
	// RealTime paces cycles with the wall clock instead of running as fast as possible.
	RealTime bool `json:"real_time,omitempty"`
}

// Validate returns an error for a config the loop cannot run.
func (cfg Config) Validate() error {
	if !utils.IsFinite(cfg.Frequency) || cfg.Frequency <= 0 || cfg.Frequency > 200 {
		return errors.New("loop frequency shouldn't be 0 or above 200Hz")
	}
	if cfg.Cycles < 1 {
		return errors.Errorf("loop needs at least one cycle, got %d", cfg.Cycles)
	}
	if !utils.IsFinite(cfg.LatencySec) || cfg.LatencySec < 0 {
		return errors.Errorf("latency must be non-negative, got %v", cfg.LatencySec)
	}
	switch cfg.FailurePolicy {
	case "", HoldLastCommand, Abort:
	case Brake:
		if !utils.IsFinite(cfg.BrakeAcceleration) || cfg.BrakeAcceleration > 0 {
			return errors.Errorf("brake acceleration must be zero or negative, got %v", cfg.BrakeAcceleration)
		}
	default:
		return errors.Errorf("unknown failure policy %q", cfg.FailurePolicy)
	}
	return nil
}

// Period is the time between cycles.
func (cfg Config) Period() time.Duration {
	return time.Duration(float64(time.Second) * (1.0 / cfg.Frequency))
}

// Latency is the actuator delay.
func (cfg Config) Latency() time.Duration {
	return time.Duration(cfg.LatencySec * float64(time.Second))
}

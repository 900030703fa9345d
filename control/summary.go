package control

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/multierr"

	"go.viam.com/mpc/utils"
)

// Summary aggregates the records of a run.
type Summary struct {
	Cycles        int           `json:"cycles"`
	Failures      int           `json:"failures"`
	MeanAbsCte    float64       `json:"mean_abs_cte"`
	MaxAbsCte     float64       `json:"max_abs_cte"`
	MeanAbsEpsi   float64       `json:"mean_abs_epsi"`
	MeanSpeedMPH  float64       `json:"mean_speed_mph"`
	MeanSolveTime time.Duration `json:"mean_solve_time"`
	P95SolveTime  time.Duration `json:"p95_solve_time"`
	MaxSolveTime  time.Duration `json:"max_solve_time"`
}

// Summarize computes tracking and timing statistics. An empty run has a zero Summary.
func Summarize(records []Record) (Summary, error) {
	summary := Summary{Cycles: len(records)}
	if len(records) == 0 {
		return summary, nil
	}
	cte := make(stats.Float64Data, 0, len(records))
	epsi := make(stats.Float64Data, 0, len(records))
	speed := make(stats.Float64Data, 0, len(records))
	solveTimes := make(stats.Float64Data, 0, len(records))
	for _, r := range records {
		if r.Failure != "" {
			summary.Failures++
		}
		cte = append(cte, math.Abs(r.State.Cte))
		epsi = append(epsi, math.Abs(r.State.Epsi))
		speed = append(speed, utils.MPSToMPH(r.State.V))
		solveTimes = append(solveTimes, float64(r.SolveTime))
	}

	var err, e error
	summary.MeanAbsCte, e = cte.Mean()
	err = multierr.Append(err, e)
	summary.MaxAbsCte, e = cte.Max()
	err = multierr.Append(err, e)
	summary.MeanAbsEpsi, e = epsi.Mean()
	err = multierr.Append(err, e)
	summary.MeanSpeedMPH, e = speed.Mean()
	err = multierr.Append(err, e)

	var mean, p95, maxTime float64
	mean, e = solveTimes.Mean()
	err = multierr.Append(err, e)
	maxTime, e = solveTimes.Max()
	err = multierr.Append(err, e)
	// nearest rank percentiles need at least two samples
	p95 = maxTime
	if len(solveTimes) > 1 {
		p95, e = solveTimes.Percentile(95)
		err = multierr.Append(err, e)
	}
	summary.MeanSolveTime = time.Duration(mean)
	summary.P95SolveTime = time.Duration(p95)
	summary.MaxSolveTime = time.Duration(maxTime)
	return summary, err
}

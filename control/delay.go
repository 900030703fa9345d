package control

import (
	"time"

	"go.viam.com/mpc/kinematics"
)

type pendingCommand struct {
	at time.Duration
	u  kinematics.Actuation
}

// delayLine models actuator latency: a command sent at t reaches the plant at t + latency, and
// until then the plant keeps seeing the previously delivered command.
type delayLine struct {
	latency time.Duration
	pending []pendingCommand
	applied kinematics.Actuation
}

func (d *delayLine) send(now time.Duration, u kinematics.Actuation) {
	d.pending = append(d.pending, pendingCommand{at: now + d.latency, u: u})
}

// advance drives the plant from one simulated time to another, switching commands as they arrive.
func (d *delayLine) advance(plant Plant, from, to time.Duration) {
	t := from
	for len(d.pending) > 0 && d.pending[0].at < to {
		next := d.pending[0]
		if next.at > t {
			plant.Advance(d.applied, (next.at - t).Seconds())
			t = next.at
		}
		d.applied = next.u
		d.pending = d.pending[1:]
	}
	if to > t {
		plant.Advance(d.applied, (to - t).Seconds())
	}
}

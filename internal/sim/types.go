package sim

import (
	"fmt"
	"time"
)

// #region ids

// CarID identifies a vehicle for its lifetime in the simulation.
type CarID uint64

func (c CarID) String() string {
	return fmt.Sprintf("car-%d", uint64(c))
}

// TurnID identifies one movement through an intersection, e.g. "i3:l12->l40".
type TurnID string

// IntersectionID identifies the shared resource being arbitrated.
type IntersectionID string

// #endregion ids

// #region time

// Timestep is the simulated time covered by one tick.
const Timestep = 100 * time.Millisecond

// DefaultSpeedLimit is the uniform speed limit in meters per second (20 mph).
const DefaultSpeedLimit = 8.9408

// Tick is discrete, monotonic simulation time.
type Tick uint64

// Duration converts the tick to simulated time since tick 0.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * Timestep
}

// Seconds converts the tick to simulated seconds since tick 0.
func (t Tick) Seconds() float64 {
	return t.Duration().Seconds()
}

// Sub returns the simulated time elapsed between earlier and t.
// Returns 0 when earlier is after t.
func (t Tick) Sub(earlier Tick) time.Duration {
	if earlier >= t {
		return 0
	}
	return (t - earlier).Duration()
}

// TicksFor returns the smallest number of ticks covering d.
func TicksFor(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	n := d / Timestep
	if d%Timestep != 0 {
		n++
	}
	return Tick(n)
}

// #endregion time

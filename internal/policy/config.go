package policy

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region config

// Config holds the tunable constants of the admission rules.
type Config struct {
	StopDwell  time.Duration // minimum wait for a Stop-priority turn, measured from the first request
	SpeedLimit float64       // meters per second, used for signal crossing-time estimates
}

// DefaultConfig returns the legal full-stop dwell of 1.5s and the 20 mph limit.
func DefaultConfig() Config {
	return Config{
		StopDwell:  1500 * time.Millisecond,
		SpeedLimit: sim.DefaultSpeedLimit,
	}
}

// Validate rejects configurations that would make admission meaningless.
func (c Config) Validate() error {
	if c.StopDwell < 0 {
		return fmt.Errorf("stop dwell must not be negative, got %s", c.StopDwell)
	}
	if c.SpeedLimit <= 0 {
		return fmt.Errorf("speed limit must be positive, got %f", c.SpeedLimit)
	}
	return nil
}

// #endregion config

// #region env

// TurnGeometry answers questions about turn paths. geom.Map implements it.
type TurnGeometry interface {
	// HasTurn reports whether id is a known turn. The other methods may
	// panic for unknown ids.
	HasTurn(id sim.TurnID) bool
	// Conflicts reports whether a and b cannot be executed simultaneously.
	Conflicts(a, b sim.TurnID) bool
	// TurnLength returns the traversal length in meters.
	TurnLength(id sim.TurnID) float64
	// TurnIntersection returns the intersection the turn belongs to.
	TurnIntersection(id sim.TurnID) sim.IntersectionID
}

// Env bundles the collaborators a policy consults but does not own.
// It is not part of a policy's serialized state.
type Env struct {
	Geometry TurnGeometry
	Config   Config
	Logger   *logging.Logger
}

func (e Env) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.NopLogger()
	}
	return e.Logger
}

// #endregion env

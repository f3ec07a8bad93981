package arbiter

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region errors

var (
	// ErrUnknownIntersection is returned for an intersection with no control.
	ErrUnknownIntersection = errors.New("unknown intersection")
	// ErrNotAccepted is returned for enter/exit of a car that holds no admission.
	ErrNotAccepted = policy.ErrNotAccepted
	// ErrUnknownTurn is returned for a turn missing from the map or owned by
	// another intersection.
	ErrUnknownTurn = policy.ErrUnknownTurn
)

// #endregion errors

// #region config

// Config tunes the arbiter.
type Config struct {
	Policy policy.Config
	// Parallelism bounds how many intersections Step evaluates at once.
	// Zero or negative means one goroutine per intersection.
	Parallelism int
}

// DefaultConfig returns the default policy constants with unbounded parallelism.
func DefaultConfig() Config {
	return Config{Policy: policy.DefaultConfig()}
}

// Validate checks the policy constants.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// #endregion config

// #region request

// Request asks for car to be admitted onto turn at intersection at tick.
type Request struct {
	Intersection sim.IntersectionID `json:"intersection_id"`
	Car          sim.CarID          `json:"car_id"`
	Turn         sim.TurnID         `json:"turn_id"`
	Tick         sim.Tick           `json:"tick"`
}

// Result pairs a request with its decision.
type Result struct {
	Request
	Decision policy.Decision `json:"decision"`
}

// #endregion request

// #region sink

// Sink receives one entry per request, enter and exit. *logging.DecisionLog
// satisfies it.
type Sink interface {
	Record(entry logging.DecisionEntry) error
}

// #endregion sink

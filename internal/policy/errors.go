package policy

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region errors

var (
	// ErrNotAccepted marks an enter/exit for a car the policy never admitted.
	ErrNotAccepted = errors.New("car not accepted")
	// ErrUnknownTurn marks a request for a turn outside the intersection.
	ErrUnknownTurn = errors.New("turn does not belong to intersection")
)

// ProtocolError describes a driver that broke the request/enter/exit
// protocol. Policies panic with it; it is never returned.
type ProtocolError struct {
	Intersection sim.IntersectionID
	Car          sim.CarID
	Turn         sim.TurnID
	Op           string
	Err          error
}

func (e *ProtocolError) Error() string {
	if e.Turn != "" {
		return fmt.Sprintf("intersection %s: %s %s turn %s: %v", e.Intersection, e.Op, e.Car, e.Turn, e.Err)
	}
	return fmt.Sprintf("intersection %s: %s %s: %v", e.Intersection, e.Op, e.Car, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func violate(e *ProtocolError) {
	panic(e)
}

// #endregion errors

package logging

import (
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region decision-entry

// Event kinds recorded in the decision log.
const (
	EventRequest = "request"
	EventEnter   = "enter"
	EventExit    = "exit"
)

// DecisionEntry is a single row in the decision_log table: one admission
// request and its outcome, or one enter/exit confirmation.
type DecisionEntry struct {
	ID           int64
	Tick         sim.Tick
	Intersection sim.IntersectionID
	Car          sim.CarID
	Turn         sim.TurnID // empty for enter/exit
	Event        string     // "request" | "enter" | "exit"
	Admitted     bool
	Reason       string
	CreatedAt    time.Time
}

// #endregion decision-entry

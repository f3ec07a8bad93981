package policy

import (
	"maps"

	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region state

// TrafficSignalState is the serializable admission state of a signalled intersection.
type TrafficSignalState struct {
	Accepted map[sim.CarID]sim.TurnID `json:"accepted"`
}

func (s TrafficSignalState) clone() TrafficSignalState {
	out := TrafficSignalState{Accepted: maps.Clone(s.Accepted)}
	if out.Accepted == nil {
		out.Accepted = make(map[sim.CarID]sim.TurnID)
	}
	return out
}

// #endregion state

// #region traffic-signal

// TrafficSignal admits a car only when its turn is in the active cycle and
// the car can cross at the speed limit before the cycle ends. Waiting cars
// are not tracked.
type TrafficSignal struct {
	id      sim.IntersectionID
	control *control.TrafficSignal
	env     Env
	state   TrafficSignalState
}

// NewTrafficSignal creates an empty signal policy for ctrl's intersection.
func NewTrafficSignal(ctrl *control.TrafficSignal, env Env) *TrafficSignal {
	return &TrafficSignal{
		id:      ctrl.Intersection,
		control: ctrl,
		env:     env,
		state:   TrafficSignalState{Accepted: make(map[sim.CarID]sim.TurnID)},
	}
}

// Evaluate decides whether car may start turn at tick now.
func (s *TrafficSignal) Evaluate(car sim.CarID, turn sim.TurnID, now sim.Tick) Decision {
	if geo := s.env.Geometry; !geo.HasTurn(turn) || geo.TurnIntersection(turn) != s.id {
		violate(&ProtocolError{Intersection: s.id, Car: car, Turn: turn, Op: "request", Err: ErrUnknownTurn})
	}

	if _, ok := s.state.Accepted[car]; ok {
		return admit(ReasonAlreadyAccepted)
	}

	cycle, remaining := s.control.CurrentCycleAndRemainingTime(now.Duration())

	var d Decision
	if !cycle.Contains(turn) {
		d = reject(ReasonNotInCycle)
	} else {
		// Strictly less: a car that would clear exactly as the cycle flips is refused.
		crossing := s.env.Geometry.TurnLength(turn) / s.env.Config.SpeedLimit
		if crossing < remaining.Seconds() {
			s.state.Accepted[car] = turn
			d = admit(ReasonAdmitted)
		} else {
			d = reject(ReasonInsufficientCycleTime)
		}
	}

	s.env.logger().Debug("traffic signal decision",
		"intersection_id", string(s.id),
		"car_id", uint64(car),
		"turn_id", string(turn),
		"tick", uint64(now),
		"remaining_s", remaining.Seconds(),
		"admitted", d.Admitted,
		"reason", string(d.Reason),
	)
	return d
}

// OnEnter asserts that car was admitted before it entered the intersection.
func (s *TrafficSignal) OnEnter(car sim.CarID) {
	if _, ok := s.state.Accepted[car]; !ok {
		violate(&ProtocolError{Intersection: s.id, Car: car, Op: "enter", Err: ErrNotAccepted})
	}
}

// OnExit releases car's turn.
func (s *TrafficSignal) OnExit(car sim.CarID) {
	if _, ok := s.state.Accepted[car]; !ok {
		violate(&ProtocolError{Intersection: s.id, Car: car, Op: "exit", Err: ErrNotAccepted})
	}
	delete(s.state.Accepted, car)
}

// State returns a deep copy of the admission state.
func (s *TrafficSignal) State() TrafficSignalState {
	return s.state.clone()
}

// #endregion traffic-signal

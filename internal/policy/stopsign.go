package policy

import (
	"maps"
	"slices"

	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region state

// StopSignState is the serializable admission state of a stop-sign intersection.
type StopSignState struct {
	// StartedWaitingAt is the first tick a not-yet-admitted car asked to go.
	StartedWaitingAt map[sim.CarID]sim.Tick `json:"started_waiting_at"`
	// Accepted holds the turns currently occupying the intersection.
	Accepted map[sim.CarID]sim.TurnID `json:"accepted"`
	// Waiting holds requested but not yet admitted turns.
	Waiting map[sim.CarID]sim.TurnID `json:"waiting"`
}

func newStopSignState() StopSignState {
	return StopSignState{
		StartedWaitingAt: make(map[sim.CarID]sim.Tick),
		Accepted:         make(map[sim.CarID]sim.TurnID),
		Waiting:          make(map[sim.CarID]sim.TurnID),
	}
}

func (s StopSignState) clone() StopSignState {
	out := StopSignState{
		StartedWaitingAt: maps.Clone(s.StartedWaitingAt),
		Accepted:         maps.Clone(s.Accepted),
		Waiting:          maps.Clone(s.Waiting),
	}
	if out.StartedWaitingAt == nil {
		out.StartedWaitingAt = make(map[sim.CarID]sim.Tick)
	}
	if out.Accepted == nil {
		out.Accepted = make(map[sim.CarID]sim.TurnID)
	}
	if out.Waiting == nil {
		out.Waiting = make(map[sim.CarID]sim.TurnID)
	}
	return out
}

// #endregion state

// #region stop-sign

// StopSign admits cars at an all-way or partial stop: a turn waits for
// conflicting occupants to leave, yields to conflicting higher-priority
// waiters, and Stop-priority turns dwell for Config.StopDwell first.
type StopSign struct {
	id      sim.IntersectionID
	control *control.StopSign
	env     Env
	state   StopSignState
}

// NewStopSign creates an empty stop-sign policy for ctrl's intersection.
func NewStopSign(ctrl *control.StopSign, env Env) *StopSign {
	return &StopSign{
		id:      ctrl.Intersection,
		control: ctrl,
		env:     env,
		state:   newStopSignState(),
	}
}

// Evaluate decides whether car may start turn at tick now. Rejected cars are
// recorded as waiting; the caller retries on a later tick.
func (s *StopSign) Evaluate(car sim.CarID, turn sim.TurnID, now sim.Tick) Decision {
	if !s.controls(turn) {
		violate(&ProtocolError{Intersection: s.id, Car: car, Turn: turn, Op: "request", Err: ErrUnknownTurn})
	}

	if _, ok := s.state.Accepted[car]; ok {
		return admit(ReasonAlreadyAccepted)
	}

	if _, ok := s.state.StartedWaitingAt[car]; !ok {
		s.state.StartedWaitingAt[car] = now
	}

	var d Decision
	switch {
	case s.conflictsWithAccepted(turn):
		d = reject(ReasonConflictsWithAccepted)
	case s.conflictsWithHigherPriorityWaiter(car, turn):
		d = reject(ReasonYieldToHigherPriority)
	case s.control.Priority(turn) == control.Stop &&
		now.Sub(s.state.StartedWaitingAt[car]) < s.env.Config.StopDwell:
		d = reject(ReasonStopDwell)
	default:
		d = admit(ReasonAdmitted)
	}

	if d.Admitted {
		s.state.Accepted[car] = turn
		delete(s.state.Waiting, car)
		delete(s.state.StartedWaitingAt, car)
	} else {
		s.state.Waiting[car] = turn
	}

	s.env.logger().Debug("stop sign decision",
		"intersection_id", string(s.id),
		"car_id", uint64(car),
		"turn_id", string(turn),
		"tick", uint64(now),
		"admitted", d.Admitted,
		"reason", string(d.Reason),
	)
	return d
}

// controls reports whether turn passes through this intersection and has a
// configured priority.
func (s *StopSign) controls(turn sim.TurnID) bool {
	geo := s.env.Geometry
	return geo.HasTurn(turn) && geo.TurnIntersection(turn) == s.id && s.control.Contains(turn)
}

func (s *StopSign) conflictsWithAccepted(turn sim.TurnID) bool {
	for _, other := range s.state.Accepted {
		if s.env.Geometry.Conflicts(turn, other) {
			return true
		}
	}
	return false
}

// conflictsWithHigherPriorityWaiter only blocks on waiters that both conflict
// and outrank turn; priority alone never blocks.
func (s *StopSign) conflictsWithHigherPriorityWaiter(car sim.CarID, turn sim.TurnID) bool {
	base := s.control.Priority(turn)
	for other, otherTurn := range s.state.Waiting {
		if other == car {
			continue
		}
		if s.control.Priority(otherTurn) > base && s.env.Geometry.Conflicts(turn, otherTurn) {
			return true
		}
	}
	return false
}

// OnEnter asserts that car was admitted before it entered the intersection.
func (s *StopSign) OnEnter(car sim.CarID) {
	if _, ok := s.state.Accepted[car]; !ok {
		violate(&ProtocolError{Intersection: s.id, Car: car, Op: "enter", Err: ErrNotAccepted})
	}
}

// OnExit releases car's turn so conflicting waiters can be admitted.
func (s *StopSign) OnExit(car sim.CarID) {
	if _, ok := s.state.Accepted[car]; !ok {
		violate(&ProtocolError{Intersection: s.id, Car: car, Op: "exit", Err: ErrNotAccepted})
	}
	delete(s.state.Accepted, car)
}

// WaitingOrder returns the waiting cars ordered by earliest first request,
// then ascending CarID. Drivers use it to process a tick deterministically.
func (s *StopSign) WaitingOrder() []sim.CarID {
	cars := slices.Collect(maps.Keys(s.state.Waiting))
	slices.SortFunc(cars, func(a, b sim.CarID) int {
		ta, tb := s.state.StartedWaitingAt[a], s.state.StartedWaitingAt[b]
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})
	return cars
}

// State returns a deep copy of the admission state.
func (s *StopSign) State() StopSignState {
	return s.state.clone()
}

// #endregion stop-sign

// Package policy decides, tick by tick, which cars may enter an intersection.
//
// A Policy is a closed choice between a StopSign and a TrafficSignal variant.
// The set is closed so that any policy can be snapshotted to plain maps and
// restored from a checkpoint. Every operation either commits its whole state
// transition or changes nothing; protocol violations by the driver panic with
// a *ProtocolError.
//
// Policies are not safe for concurrent use. Callers that drive several cars
// from several goroutines serialize access per intersection (see arbiter).
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region kind

// Kind tags which variant a Policy holds.
type Kind string

const (
	KindStopSign      Kind = "stop_sign"
	KindTrafficSignal Kind = "traffic_signal"
)

// #endregion kind

// #region policy

// Policy is the admission policy of one intersection.
type Policy struct {
	id       sim.IntersectionID
	kind     Kind
	stopSign *StopSign
	signal   *TrafficSignal
}

// NewStopSignPolicy wraps a fresh stop-sign policy.
func NewStopSignPolicy(ctrl *control.StopSign, env Env) *Policy {
	return &Policy{id: ctrl.Intersection, kind: KindStopSign, stopSign: NewStopSign(ctrl, env)}
}

// NewTrafficSignalPolicy wraps a fresh traffic-signal policy.
func NewTrafficSignalPolicy(ctrl *control.TrafficSignal, env Env) *Policy {
	return &Policy{id: ctrl.Intersection, kind: KindTrafficSignal, signal: NewTrafficSignal(ctrl, env)}
}

// ForIntersection picks the variant configured for id in controls.
func ForIntersection(id sim.IntersectionID, controls *control.Map, env Env) (*Policy, error) {
	if ss, ok := controls.StopSigns[id]; ok {
		return NewStopSignPolicy(ss, env), nil
	}
	if ts, ok := controls.TrafficSignals[id]; ok {
		return NewTrafficSignalPolicy(ts, env), nil
	}
	return nil, fmt.Errorf("no control configured for intersection %s", id)
}

// Intersection returns the intersection this policy arbitrates.
func (p *Policy) Intersection() sim.IntersectionID { return p.id }

// Kind returns the active variant.
func (p *Policy) Kind() Kind { return p.kind }

// StopSign returns the stop-sign variant, or nil.
func (p *Policy) StopSign() *StopSign { return p.stopSign }

// TrafficSignal returns the signal variant, or nil.
func (p *Policy) TrafficSignal() *TrafficSignal { return p.signal }

// RequestAdmission reports whether car may start turn at tick now.
// Must only be called when the car is ready to enter the intersection.
func (p *Policy) RequestAdmission(car sim.CarID, turn sim.TurnID, now sim.Tick) bool {
	return p.Evaluate(car, turn, now).Admitted
}

// Evaluate is RequestAdmission with the reason for the outcome.
func (p *Policy) Evaluate(car sim.CarID, turn sim.TurnID, now sim.Tick) Decision {
	switch p.kind {
	case KindStopSign:
		return p.stopSign.Evaluate(car, turn, now)
	case KindTrafficSignal:
		return p.signal.Evaluate(car, turn, now)
	}
	panic(fmt.Sprintf("policy: unknown kind %q", p.kind))
}

// OnEnter confirms car physically entered the intersection.
func (p *Policy) OnEnter(car sim.CarID) {
	switch p.kind {
	case KindStopSign:
		p.stopSign.OnEnter(car)
	case KindTrafficSignal:
		p.signal.OnEnter(car)
	}
}

// OnExit confirms car left the intersection and frees its turn.
func (p *Policy) OnExit(car sim.CarID) {
	switch p.kind {
	case KindStopSign:
		p.stopSign.OnExit(car)
	case KindTrafficSignal:
		p.signal.OnExit(car)
	}
}

// IsAccepted reports whether car currently holds an admitted turn.
func (p *Policy) IsAccepted(car sim.CarID) bool {
	_, ok := p.accepted()[car]
	return ok
}

// Accepted returns a copy of the admitted cars and their turns.
func (p *Policy) Accepted() map[sim.CarID]sim.TurnID {
	return maps.Clone(p.accepted())
}

func (p *Policy) accepted() map[sim.CarID]sim.TurnID {
	if p.kind == KindStopSign {
		return p.stopSign.state.Accepted
	}
	return p.signal.state.Accepted
}

// #endregion policy

// #region snapshot

// Snapshot is the serializable form of a Policy: a variant tag plus that
// variant's maps. encoding/json writes map keys in sorted order, so equal
// states always encode to identical bytes.
type Snapshot struct {
	Kind          Kind                `json:"kind"`
	Intersection  sim.IntersectionID  `json:"intersection"`
	StopSign      *StopSignState      `json:"stop_sign,omitempty"`
	TrafficSignal *TrafficSignalState `json:"traffic_signal,omitempty"`
}

// Snapshot returns a deep copy of the policy's state.
func (p *Policy) Snapshot() Snapshot {
	snap := Snapshot{Kind: p.kind, Intersection: p.id}
	switch p.kind {
	case KindStopSign:
		st := p.stopSign.State()
		snap.StopSign = &st
	case KindTrafficSignal:
		st := p.signal.State()
		snap.TrafficSignal = &st
	}
	return snap
}

// MarshalJSON encodes the policy's snapshot.
func (p *Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

// Restore rebuilds a policy from snap, binding it to the intersection's
// control data and env. The snapshot must satisfy the policy invariants.
func Restore(snap Snapshot, controls *control.Map, env Env) (*Policy, error) {
	var p *Policy
	switch snap.Kind {
	case KindStopSign:
		ctrl, ok := controls.StopSigns[snap.Intersection]
		if !ok {
			return nil, fmt.Errorf("restore %s: no stop sign configured", snap.Intersection)
		}
		if snap.StopSign == nil {
			return nil, fmt.Errorf("restore %s: missing stop sign state", snap.Intersection)
		}
		p = NewStopSignPolicy(ctrl, env)
		p.stopSign.state = snap.StopSign.clone()
	case KindTrafficSignal:
		ctrl, ok := controls.TrafficSignals[snap.Intersection]
		if !ok {
			return nil, fmt.Errorf("restore %s: no traffic signal configured", snap.Intersection)
		}
		if snap.TrafficSignal == nil {
			return nil, fmt.Errorf("restore %s: missing traffic signal state", snap.Intersection)
		}
		p = NewTrafficSignalPolicy(ctrl, env)
		p.signal.state = snap.TrafficSignal.clone()
	default:
		return nil, fmt.Errorf("restore %s: unknown policy kind %q", snap.Intersection, snap.Kind)
	}
	if err := p.Verify(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.Intersection, err)
	}
	return p, nil
}

// #endregion snapshot

// #region verify

// Verify checks the state invariants: every stored turn is a known turn
// controlled at this intersection, no car is both accepted and waiting, a
// first-wait tick exists exactly for waiting cars, and no two conflicting
// accepted turns share a stop sign.
func (p *Policy) Verify() error {
	var errs []error
	for car, turn := range p.accepted() {
		if err := p.checkTurn(turn); err != nil {
			errs = append(errs, fmt.Errorf("accepted %s: %w", car, err))
		}
	}
	if p.kind != KindStopSign {
		return errors.Join(errs...)
	}

	st := p.stopSign.state
	for car, turn := range st.Waiting {
		if err := p.checkTurn(turn); err != nil {
			errs = append(errs, fmt.Errorf("waiting %s: %w", car, err))
		}
	}
	// Conflict queries on unknown turns would panic.
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for car := range st.Waiting {
		if _, ok := st.Accepted[car]; ok {
			errs = append(errs, fmt.Errorf("%s is both accepted and waiting", car))
		}
		if _, ok := st.StartedWaitingAt[car]; !ok {
			errs = append(errs, fmt.Errorf("%s is waiting without a first-wait tick", car))
		}
	}
	for car := range st.StartedWaitingAt {
		if _, ok := st.Waiting[car]; !ok {
			errs = append(errs, fmt.Errorf("%s has a first-wait tick but is not waiting", car))
		}
	}
	geo := p.stopSign.env.Geometry
	for a, ta := range st.Accepted {
		for b, tb := range st.Accepted {
			if a < b && geo.Conflicts(ta, tb) {
				errs = append(errs, fmt.Errorf("accepted %s (%s) conflicts with %s (%s)", a, ta, b, tb))
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Policy) checkTurn(turn sim.TurnID) error {
	var (
		geo        TurnGeometry
		controlled bool
	)
	if p.kind == KindStopSign {
		geo, controlled = p.stopSign.env.Geometry, p.stopSign.control.Contains(turn)
	} else {
		geo, controlled = p.signal.env.Geometry, p.signal.control.Contains(turn)
	}
	switch {
	case !geo.HasTurn(turn):
		return fmt.Errorf("turn %s: %w", turn, ErrUnknownTurn)
	case geo.TurnIntersection(turn) != p.id:
		return fmt.Errorf("turn %s passes through %s: %w", turn, geo.TurnIntersection(turn), ErrUnknownTurn)
	case !controlled:
		return fmt.Errorf("turn %s has no control at %s: %w", turn, p.id, ErrUnknownTurn)
	}
	return nil
}

// #endregion verify

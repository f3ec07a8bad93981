package control

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region stop-sign

// StopSign is the static configuration of a stop-sign intersection.
type StopSign struct {
	Intersection sim.IntersectionID          `json:"intersection"`
	Turns        map[sim.TurnID]TurnPriority `json:"turns"`
}

// Priority returns the configured priority of turn. Unconfigured turns are Stop.
func (s *StopSign) Priority(turn sim.TurnID) TurnPriority {
	return s.Turns[turn]
}

// Contains reports whether turn is configured at this intersection.
func (s *StopSign) Contains(turn sim.TurnID) bool {
	_, ok := s.Turns[turn]
	return ok
}

// #endregion stop-sign

// #region traffic-signal

// Cycle is one phase of a traffic signal: the set of turns that may proceed
// and how long the phase lasts.
type Cycle struct {
	Turns    []sim.TurnID  `json:"turns"`
	Duration time.Duration `json:"duration"`
}

// Contains reports whether turn is active during this cycle.
func (c Cycle) Contains(turn sim.TurnID) bool {
	return slices.Contains(c.Turns, turn)
}

// TrafficSignal is the static configuration of a signalled intersection.
// The schedule repeats forever; Offset shifts where tick 0 falls in it.
type TrafficSignal struct {
	Intersection sim.IntersectionID `json:"intersection"`
	Cycles       []Cycle            `json:"cycles"`
	Offset       time.Duration      `json:"offset"`
}

// CycleLength returns the duration of one full pass through all cycles.
func (s *TrafficSignal) CycleLength() time.Duration {
	var total time.Duration
	for _, c := range s.Cycles {
		total += c.Duration
	}
	return total
}

// Contains reports whether turn appears in any cycle of this signal.
func (s *TrafficSignal) Contains(turn sim.TurnID) bool {
	for _, c := range s.Cycles {
		if c.Contains(turn) {
			return true
		}
	}
	return false
}

// CurrentCycleAndRemainingTime returns the cycle active at simulated time t
// and how long it stays active. Each cycle covers [start, start+Duration).
func (s *TrafficSignal) CurrentCycleAndRemainingTime(t time.Duration) (Cycle, time.Duration) {
	length := s.CycleLength()
	pos := (t + s.Offset) % length
	if pos < 0 {
		pos += length
	}
	var start time.Duration
	for _, c := range s.Cycles {
		end := start + c.Duration
		if pos < end {
			return c, end - pos
		}
		start = end
	}
	// Unreachable for a validated signal; fall back to the last cycle.
	last := s.Cycles[len(s.Cycles)-1]
	return last, last.Duration
}

// #endregion traffic-signal

// #region control-map

// Map holds the control configuration of every intersection.
type Map struct {
	StopSigns      map[sim.IntersectionID]*StopSign      `json:"stop_signs"`
	TrafficSignals map[sim.IntersectionID]*TrafficSignal `json:"traffic_signals"`
}

// NewMap builds a control map from stop-sign and signal configurations.
func NewMap(stopSigns []*StopSign, signals []*TrafficSignal) (*Map, error) {
	m := &Map{
		StopSigns:      make(map[sim.IntersectionID]*StopSign, len(stopSigns)),
		TrafficSignals: make(map[sim.IntersectionID]*TrafficSignal, len(signals)),
	}
	for _, ss := range stopSigns {
		if _, ok := m.StopSigns[ss.Intersection]; ok {
			return nil, fmt.Errorf("intersection %s configured twice", ss.Intersection)
		}
		m.StopSigns[ss.Intersection] = ss
	}
	for _, ts := range signals {
		if _, ok := m.TrafficSignals[ts.Intersection]; ok {
			return nil, fmt.Errorf("intersection %s configured twice", ts.Intersection)
		}
		m.TrafficSignals[ts.Intersection] = ts
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that every intersection has exactly one usable control.
func (m *Map) Validate() error {
	var errs []error
	for id, ss := range m.StopSigns {
		if ss.Intersection != id {
			errs = append(errs, fmt.Errorf("stop sign keyed %s describes %s", id, ss.Intersection))
		}
		if len(ss.Turns) == 0 {
			errs = append(errs, fmt.Errorf("stop sign %s: no turns", id))
		}
		if _, ok := m.TrafficSignals[id]; ok {
			errs = append(errs, fmt.Errorf("intersection %s has both a stop sign and a signal", id))
		}
	}
	for id, ts := range m.TrafficSignals {
		if ts.Intersection != id {
			errs = append(errs, fmt.Errorf("signal keyed %s describes %s", id, ts.Intersection))
		}
		if len(ts.Cycles) == 0 {
			errs = append(errs, fmt.Errorf("signal %s: no cycles", id))
		}
		for i, c := range ts.Cycles {
			if c.Duration <= 0 {
				errs = append(errs, fmt.Errorf("signal %s: cycle %d has non-positive duration %s", id, i, c.Duration))
			}
		}
	}
	return errors.Join(errs...)
}

// Intersections returns every configured intersection id, sorted.
func (m *Map) Intersections() []sim.IntersectionID {
	ids := make([]sim.IntersectionID, 0, len(m.StopSigns)+len(m.TrafficSignals))
	for id := range m.StopSigns {
		ids = append(ids, id)
	}
	for id := range m.TrafficSignals {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// #endregion control-map

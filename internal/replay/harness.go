package replay

import (
	"context"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region types

// Event kinds, shared with the decision log.
const (
	KindRequest = logging.EventRequest
	KindEnter   = logging.EventEnter
	KindExit    = logging.EventExit
)

// Event is one recorded driver call.
type Event struct {
	Tick         sim.Tick           `json:"tick"`
	Kind         string             `json:"kind"`
	Intersection sim.IntersectionID `json:"intersection"`
	Car          sim.CarID          `json:"car"`
	Turn         sim.TurnID         `json:"turn,omitempty"`
}

// Result is the outcome of replaying one event. Enter and exit results are
// always admitted with an empty reason.
type Result struct {
	Tick         sim.Tick
	Kind         string
	Intersection sim.IntersectionID
	Car          sim.CarID
	Turn         sim.TurnID
	Admitted     bool
	Reason       string
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Ticks    int
	Requests int
	Admitted int
	Rejected int
	Enters   int
	Exits    int
	ByReason map[string]int
}

// #endregion types

// #region replay

// Replay feeds events through a in tick order. Within one tick, exits run
// first, then enters, then every request as a single Step, so capacity freed
// on a tick is visible to that tick's requests.
func Replay(ctx context.Context, a *arbiter.Arbiter, events []Event) ([]Result, error) {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Tick < ordered[j].Tick })

	results := make([]Result, 0, len(events))
	for start := 0; start < len(ordered); {
		tick := ordered[start].Tick
		end := start
		for end < len(ordered) && ordered[end].Tick == tick {
			end++
		}
		batch, err := replayTick(ctx, a, tick, ordered[start:end])
		if err != nil {
			return results, fmt.Errorf("tick %d: %w", tick, err)
		}
		results = append(results, batch...)
		start = end
	}
	return results, nil
}

func replayTick(ctx context.Context, a *arbiter.Arbiter, tick sim.Tick, events []Event) ([]Result, error) {
	var exits, enters []Event
	var reqs []arbiter.Request
	for _, ev := range events {
		switch ev.Kind {
		case KindExit:
			exits = append(exits, ev)
		case KindEnter:
			enters = append(enters, ev)
		case KindRequest:
			reqs = append(reqs, arbiter.Request{Intersection: ev.Intersection, Car: ev.Car, Turn: ev.Turn})
		default:
			return nil, fmt.Errorf("car %s: unknown event kind %q", ev.Car, ev.Kind)
		}
	}

	results := make([]Result, 0, len(events))
	for _, ev := range exits {
		if err := a.Exit(ctx, ev.Intersection, ev.Car, tick); err != nil {
			return nil, err
		}
		results = append(results, Result{Tick: tick, Kind: KindExit, Intersection: ev.Intersection, Car: ev.Car, Admitted: true})
	}
	for _, ev := range enters {
		if err := a.Enter(ctx, ev.Intersection, ev.Car, tick); err != nil {
			return nil, err
		}
		results = append(results, Result{Tick: tick, Kind: KindEnter, Intersection: ev.Intersection, Car: ev.Car, Admitted: true})
	}
	if len(reqs) == 0 {
		return results, nil
	}

	decided, err := a.Step(ctx, tick, reqs)
	if err != nil {
		return nil, err
	}
	for _, r := range decided {
		results = append(results, Result{
			Tick:         tick,
			Kind:         KindRequest,
			Intersection: r.Intersection,
			Car:          r.Car,
			Turn:         r.Turn,
			Admitted:     r.Decision.Admitted,
			Reason:       string(r.Decision.Reason),
		})
	}
	return results, nil
}

// Requests filters results down to admission requests.
func Requests(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Kind == KindRequest {
			out = append(out, r)
		}
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{ByReason: make(map[string]int)}
	seen := make(map[sim.Tick]bool)
	for _, r := range results {
		if !seen[r.Tick] {
			seen[r.Tick] = true
			s.Ticks++
		}
		switch r.Kind {
		case KindRequest:
			s.Requests++
			if r.Admitted {
				s.Admitted++
			} else {
				s.Rejected++
			}
			s.ByReason[r.Reason]++
		case KindEnter:
			s.Enters++
		case KindExit:
			s.Exits++
		}
	}
	return s
}

// #endregion replay

package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/geom"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a map, its
// controls, a recorded event trace and the decisions that trace produced.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Turns           []FixtureTurn           `json:"turns"`
	StopSigns       []FixtureStopSign       `json:"stop_signs,omitempty"`
	TrafficSignals  []FixtureTrafficSignal  `json:"traffic_signals,omitempty"`
	Events          []Event                 `json:"events"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig mirrors arbiter.Config with JSON-friendly units. Zero values
// fall back to the defaults.
type FixtureConfig struct {
	StopDwellSeconds float64 `json:"stop_dwell_seconds"`
	SpeedLimit       float64 `json:"speed_limit"`
	Parallelism      int     `json:"parallelism"`
}

// FixtureTurn is a turn polyline in planar metres.
type FixtureTurn struct {
	ID           sim.TurnID         `json:"id"`
	Intersection sim.IntersectionID `json:"intersection"`
	Points       [][2]float64       `json:"points"`
}

// FixtureStopSign mirrors control.StopSign.
type FixtureStopSign struct {
	Intersection sim.IntersectionID                  `json:"intersection"`
	Turns        map[sim.TurnID]control.TurnPriority `json:"turns"`
}

// FixtureTrafficSignal mirrors control.TrafficSignal with durations in seconds.
type FixtureTrafficSignal struct {
	Intersection  sim.IntersectionID `json:"intersection"`
	OffsetSeconds float64            `json:"offset_seconds"`
	Cycles        []FixtureCycle     `json:"cycles"`
}

// FixtureCycle mirrors control.Cycle.
type FixtureCycle struct {
	Turns           []sim.TurnID `json:"turns"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// FixtureExpectedResult captures the expected decision per request.
type FixtureExpectedResult struct {
	Tick         sim.Tick           `json:"tick"`
	Intersection sim.IntersectionID `json:"intersection"`
	Car          sim.CarID          `json:"car"`
	Admitted     bool               `json:"admitted"`
	Reason       string             `json:"reason"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToConfig converts the fixture config to an arbiter config.
func (fc FixtureConfig) ToConfig() arbiter.Config {
	cfg := arbiter.DefaultConfig()
	if fc.StopDwellSeconds > 0 {
		cfg.Policy.StopDwell = seconds(fc.StopDwellSeconds)
	}
	if fc.SpeedLimit > 0 {
		cfg.Policy.SpeedLimit = fc.SpeedLimit
	}
	cfg.Parallelism = fc.Parallelism
	return cfg
}

// Geometry builds the turn map.
func (f *Fixture) Geometry() (*geom.Map, error) {
	turns := make([]*geom.Turn, 0, len(f.Turns))
	for _, ft := range f.Turns {
		line := make(orb.LineString, 0, len(ft.Points))
		for _, p := range ft.Points {
			line = append(line, orb.Point{p[0], p[1]})
		}
		turns = append(turns, &geom.Turn{ID: ft.ID, Intersection: ft.Intersection, Line: line})
	}
	return geom.NewMap(turns...)
}

// Controls builds the control map.
func (f *Fixture) Controls() (*control.Map, error) {
	stops := make([]*control.StopSign, 0, len(f.StopSigns))
	for _, fs := range f.StopSigns {
		stops = append(stops, &control.StopSign{Intersection: fs.Intersection, Turns: fs.Turns})
	}
	signals := make([]*control.TrafficSignal, 0, len(f.TrafficSignals))
	for _, fs := range f.TrafficSignals {
		ts := &control.TrafficSignal{Intersection: fs.Intersection, Offset: seconds(fs.OffsetSeconds)}
		for _, c := range fs.Cycles {
			ts.Cycles = append(ts.Cycles, control.Cycle{Turns: c.Turns, Duration: seconds(c.DurationSeconds)})
		}
		signals = append(signals, ts)
	}
	return control.NewMap(stops, signals)
}

// Build assembles a fresh arbiter for the fixture's map and config.
func (f *Fixture) Build(logger *logging.Logger) (*arbiter.Arbiter, error) {
	g, err := f.Geometry()
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	c, err := f.Controls()
	if err != nil {
		return nil, fmt.Errorf("controls: %w", err)
	}
	return arbiter.New(g, c, f.Config.ToConfig(), logger)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// #endregion fixture-loader

// #region compare

// Diff compares request results against the fixture's expectations and
// returns one line per mismatch.
func (f *Fixture) Diff(results []Result) []string {
	reqs := Requests(results)
	var out []string
	if len(reqs) != len(f.ExpectedResults) {
		out = append(out, fmt.Sprintf("expected %d request results, got %d", len(f.ExpectedResults), len(reqs)))
	}
	n := min(len(reqs), len(f.ExpectedResults))
	for i := 0; i < n; i++ {
		exp, got := f.ExpectedResults[i], reqs[i]
		if exp.Tick != got.Tick || exp.Intersection != got.Intersection || exp.Car != got.Car {
			out = append(out, fmt.Sprintf("result %d: expected tick=%d %s %s, got tick=%d %s %s",
				i, exp.Tick, exp.Intersection, exp.Car, got.Tick, got.Intersection, got.Car))
			continue
		}
		if exp.Admitted != got.Admitted || exp.Reason != got.Reason {
			out = append(out, fmt.Sprintf("tick %d %s %s: expected admitted=%t reason=%s, got admitted=%t reason=%s",
				got.Tick, got.Intersection, got.Car, exp.Admitted, exp.Reason, got.Admitted, got.Reason))
		}
	}
	return out
}

// #endregion compare

// #region export

// FromDecisions replaces the fixture's trace with the events recorded in a
// decision log, using the logged request outcomes as expected results.
// Expected results are sorted the way Replay emits them. Requests that were
// served one at a time rather than through Step may replay in a different
// order within a tick.
func (f *Fixture) FromDecisions(description string, entries []logging.DecisionEntry) *Fixture {
	out := *f
	out.Description = description
	out.Events = make([]Event, 0, len(entries))
	out.ExpectedResults = nil

	for _, e := range entries {
		ev := Event{Tick: e.Tick, Kind: e.Event, Intersection: e.Intersection, Car: e.Car}
		if e.Event == KindRequest {
			ev.Turn = e.Turn
		}
		out.Events = append(out.Events, ev)
	}

	reqs := make([]logging.DecisionEntry, 0, len(entries))
	for _, e := range entries {
		if e.Event == KindRequest {
			reqs = append(reqs, e)
		}
	}
	sortEntries(reqs)
	for _, e := range reqs {
		out.ExpectedResults = append(out.ExpectedResults, FixtureExpectedResult{
			Tick:         e.Tick,
			Intersection: e.Intersection,
			Car:          e.Car,
			Admitted:     e.Admitted,
			Reason:       e.Reason,
		})
	}
	return &out
}

// ExpectedFrom records results as the fixture's expected outcomes.
func (f *Fixture) ExpectedFrom(results []Result) {
	f.ExpectedResults = f.ExpectedResults[:0]
	for _, r := range Requests(results) {
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			Tick:         r.Tick,
			Intersection: r.Intersection,
			Car:          r.Car,
			Admitted:     r.Admitted,
			Reason:       r.Reason,
		})
	}
}

func sortEntries(entries []logging.DecisionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.Intersection != b.Intersection {
			return a.Intersection < b.Intersection
		}
		return a.Car < b.Car
	})
}

// #endregion export

// #region validate

var knownReasons = map[string]bool{
	string(policy.ReasonAlreadyAccepted):       true,
	string(policy.ReasonAdmitted):              true,
	string(policy.ReasonConflictsWithAccepted): true,
	string(policy.ReasonYieldToHigherPriority): true,
	string(policy.ReasonStopDwell):             true,
	string(policy.ReasonNotInCycle):            true,
	string(policy.ReasonInsufficientCycleTime): true,
}

// Validate checks event kinds and expected reasons.
func (f *Fixture) Validate() error {
	var errs []error
	for i, ev := range f.Events {
		switch ev.Kind {
		case KindRequest:
			if ev.Turn == "" {
				errs = append(errs, fmt.Errorf("event %d: request without turn", i))
			}
		case KindEnter, KindExit:
		default:
			errs = append(errs, fmt.Errorf("event %d: unknown kind %q", i, ev.Kind))
		}
	}
	for i, exp := range f.ExpectedResults {
		if !knownReasons[exp.Reason] {
			errs = append(errs, fmt.Errorf("expected result %d: unknown reason %q", i, exp.Reason))
		}
	}
	return errors.Join(errs...)
}

// #endregion validate

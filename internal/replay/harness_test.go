package replay

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

func stopYieldFixture(t *testing.T) *Fixture {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", "stop_yield.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	return f
}

func TestReplay_ExitsBeforeRequestsWithinTick(t *testing.T) {
	f := stopYieldFixture(t)
	a, err := f.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Car 2 has waited since tick 0. The exit at tick 20 must free t1 before
	// car 2's request on the same tick is evaluated.
	events := []Event{
		{Tick: 20, Kind: KindRequest, Intersection: "i1", Car: 2, Turn: "t1"},
		{Tick: 20, Kind: KindExit, Intersection: "i1", Car: 1},
		{Tick: 0, Kind: KindRequest, Intersection: "i1", Car: 1, Turn: "t2"},
		{Tick: 0, Kind: KindRequest, Intersection: "i1", Car: 2, Turn: "t1"},
	}
	results, err := Replay(context.Background(), a, events)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[2].Kind != KindExit {
		t.Fatalf("expected exit before request at tick 20, got %s", results[2].Kind)
	}
	last := results[3]
	if last.Car != 2 || !last.Admitted {
		t.Fatalf("expected car 2 admitted at tick 20, got car %s admitted=%t reason=%s", last.Car, last.Admitted, last.Reason)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	f := stopYieldFixture(t)
	var runs [][]Result
	for i := 0; i < 3; i++ {
		a, err := f.Build(nil)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		results, err := Replay(context.Background(), a, f.Events)
		if err != nil {
			t.Fatalf("Replay: %v", err)
		}
		runs = append(runs, results)
	}
	for i := 1; i < len(runs); i++ {
		if len(runs[i]) != len(runs[0]) {
			t.Fatalf("run %d: expected %d results, got %d", i, len(runs[0]), len(runs[i]))
		}
		for j := range runs[0] {
			if runs[i][j] != runs[0][j] {
				t.Fatalf("run %d result %d: expected %+v, got %+v", i, j, runs[0][j], runs[i][j])
			}
		}
	}
}

func TestReplay_ProtocolErrorStops(t *testing.T) {
	f := stopYieldFixture(t)
	a, err := f.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	events := []Event{
		{Tick: 0, Kind: KindRequest, Intersection: "i1", Car: 1, Turn: "t2"},
		{Tick: 2, Kind: KindEnter, Intersection: "i1", Car: 7},
		{Tick: 3, Kind: KindRequest, Intersection: "i1", Car: 2, Turn: "t1"},
	}
	results, err := Replay(context.Background(), a, events)
	if err == nil {
		t.Fatal("expected error for entering a car that was never admitted")
	}
	if !strings.Contains(err.Error(), "tick 2") {
		t.Fatalf("expected error to name tick 2, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected results up to the failing tick, got %d", len(results))
	}
}

func TestReplay_UnknownKind(t *testing.T) {
	f := stopYieldFixture(t)
	a, _ := f.Build(nil)
	_, err := Replay(context.Background(), a, []Event{{Tick: 0, Kind: "honk", Intersection: "i1", Car: 1}})
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}

func TestReplay_Summarize(t *testing.T) {
	results := []Result{
		{Tick: 0, Kind: KindRequest, Admitted: true, Reason: "admitted"},
		{Tick: 0, Kind: KindRequest, Admitted: false, Reason: "stop_dwell"},
		{Tick: 1, Kind: KindEnter, Admitted: true},
		{Tick: 2, Kind: KindRequest, Admitted: false, Reason: "stop_dwell"},
		{Tick: 3, Kind: KindExit, Admitted: true},
	}
	s := Summarize(results)
	if s.Ticks != 4 {
		t.Fatalf("expected 4 ticks, got %d", s.Ticks)
	}
	if s.Requests != 3 || s.Admitted != 1 || s.Rejected != 2 {
		t.Fatalf("expected 3 requests (1 admitted, 2 rejected), got %d (%d, %d)", s.Requests, s.Admitted, s.Rejected)
	}
	if s.ByReason["stop_dwell"] != 2 {
		t.Fatalf("expected 2 stop_dwell, got %d", s.ByReason["stop_dwell"])
	}
	if s.Enters != 1 || s.Exits != 1 {
		t.Fatalf("expected 1 enter and 1 exit, got %d and %d", s.Enters, s.Exits)
	}
}

func TestDiff_ReportsDrift(t *testing.T) {
	f := stopYieldFixture(t)
	a, _ := f.Build(nil)
	results, err := Replay(context.Background(), a, f.Events)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	f.ExpectedResults[1].Reason = "stop_dwell"
	diffs := f.Diff(results)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d: %v", len(diffs), diffs)
	}
	f.ExpectedResults = f.ExpectedResults[:2]
	if len(f.Diff(results)) == 0 {
		t.Fatal("expected a length mismatch to be reported")
	}
}

func TestFromDecisions_RoundTripsThroughDecisionLog(t *testing.T) {
	f := stopYieldFixture(t)
	a, err := f.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var entries []logging.DecisionEntry
	a.SetSink(sinkFunc(func(e logging.DecisionEntry) error {
		entries = append(entries, e)
		return nil
	}))
	if _, err := Replay(context.Background(), a, f.Events); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	exported := f.FromDecisions("exported", entries)
	if exported.Description != "exported" {
		t.Fatalf("expected description exported, got %s", exported.Description)
	}
	if len(exported.Events) != len(f.Events) {
		t.Fatalf("expected %d events, got %d", len(f.Events), len(exported.Events))
	}
	if len(exported.ExpectedResults) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(exported.ExpectedResults))
	}
	for i := range f.ExpectedResults {
		if exported.ExpectedResults[i] != f.ExpectedResults[i] {
			t.Fatalf("result %d: expected %+v, got %+v", i, f.ExpectedResults[i], exported.ExpectedResults[i])
		}
	}

	b, _ := exported.Build(nil)
	again, err := Replay(context.Background(), b, exported.Events)
	if err != nil {
		t.Fatalf("Replay exported: %v", err)
	}
	if d := exported.Diff(again); len(d) != 0 {
		t.Fatalf("expected exported fixture to replay cleanly, got %v", d)
	}
}

func TestExpectedFrom(t *testing.T) {
	f := &Fixture{}
	f.ExpectedFrom([]Result{
		{Tick: 1, Kind: KindEnter, Car: 1, Admitted: true},
		{Tick: 2, Kind: KindRequest, Intersection: "i1", Car: 3, Admitted: false, Reason: "stop_dwell"},
	})
	if len(f.ExpectedResults) != 1 {
		t.Fatalf("expected 1 expected result, got %d", len(f.ExpectedResults))
	}
	if f.ExpectedResults[0].Car != sim.CarID(3) || f.ExpectedResults[0].Reason != "stop_dwell" {
		t.Fatalf("unexpected result %+v", f.ExpectedResults[0])
	}
}

func TestReplay_CancelledContext(t *testing.T) {
	f := stopYieldFixture(t)
	a, _ := f.Build(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if _, err := Replay(ctx, a, f.Events); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

type sinkFunc func(logging.DecisionEntry) error

func (f sinkFunc) Record(e logging.DecisionEntry) error { return f(e) }

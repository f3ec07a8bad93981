package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

// runFixture loads a fixture, replays its events against a fresh arbiter and
// compares every request decision against the recorded expectation.
func runFixture(t *testing.T, name string) []Result {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	a, err := f.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := Replay(context.Background(), a, f.Events)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, d := range f.Diff(results) {
		t.Error(d)
	}
	return results
}

func TestFixture_StopYield(t *testing.T) {
	results := runFixture(t, "stop_yield.json")
	s := Summarize(results)
	if s.Enters != 2 || s.Exits != 2 {
		t.Fatalf("expected 2 enters and 2 exits, got %d and %d", s.Enters, s.Exits)
	}
}

func TestFixture_SignalClearance(t *testing.T) {
	runFixture(t, "signal_clearance.json")
}

func TestFixture_PriorityYield(t *testing.T) {
	runFixture(t, "priority_yield.json")
}

func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing fixture file")
	}
}

func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadFixture_UnknownReason(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	body := `{"events": [{"tick": 0, "kind": "teleport", "intersection": "i1", "car": 1}],
	          "expected_results": [{"tick": 0, "intersection": "i1", "car": 1, "reason": "because"}]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for unknown kind and reason")
	}
}

func TestFixture_SaveRoundTrip(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "signal_clearance.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "copy.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	g, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture copy: %v", err)
	}
	if len(g.Events) != len(f.Events) || len(g.ExpectedResults) != len(f.ExpectedResults) {
		t.Fatalf("expected %d events and %d results, got %d and %d",
			len(f.Events), len(f.ExpectedResults), len(g.Events), len(g.ExpectedResults))
	}
	if g.TrafficSignals[0].Cycles[1].DurationSeconds != 10 {
		t.Fatalf("expected cycle duration 10, got %f", g.TrafficSignals[0].Cycles[1].DurationSeconds)
	}
}

func TestFixture_ToConfigDefaults(t *testing.T) {
	cfg := FixtureConfig{}.ToConfig()
	if cfg.Policy.StopDwell.Seconds() != 1.5 {
		t.Fatalf("expected default dwell 1.5s, got %s", cfg.Policy.StopDwell)
	}
	if cfg.Policy.SpeedLimit <= 0 {
		t.Fatalf("expected positive default speed limit, got %f", cfg.Policy.SpeedLimit)
	}

	cfg = FixtureConfig{StopDwellSeconds: 2, SpeedLimit: 12, Parallelism: 3}.ToConfig()
	if cfg.Policy.StopDwell.Seconds() != 2 || cfg.Policy.SpeedLimit != 12 || cfg.Parallelism != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

// #endregion fixture-tests

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded trace and compare decisions",
	Long: `Replay a trace through a fresh arbiter and compare every admission decision
with the recorded one.

Fixture mode (--fixture) replays a fixture's events against its own map and
config. DB mode (--db with --map) replays the decision log of a served
database against the map it was served with, using the configured policy
constants. Exits 1 when any decision diverges.`,
	RunE: runReplay,
}

var (
	replayFixture string
	replayDB      string
	replayMap     string
	replayQuiet   bool
)

func init() {
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "fixture JSON (fixture mode)")
	replayCmd.Flags().StringVar(&replayDB, "db", "", "SQLite database with a decision log (DB mode)")
	replayCmd.Flags().StringVar(&replayMap, "map", "", "fixture holding the map for DB mode")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "only print the summary")
	replayCmd.MarkFlagsMutuallyExclusive("fixture", "db")
	replayCmd.MarkFlagsOneRequired("fixture", "db")
	replayCmd.MarkFlagsRequiredTogether("db", "map")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var f *replay.Fixture
	if replayFixture != "" {
		f, err = replay.LoadFixture(replayFixture)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
	} else {
		base, err := replay.LoadFixture(replayMap)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		store, err := checkpoint.NewStore(replayDB)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		defer store.Close()
		if err := logging.EnsureDecisionTable(store.DB()); err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		entries, err := logging.ListDecisions(store.DB())
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		if len(entries) == 0 {
			return &ExitError{Code: 2, Err: fmt.Errorf("no decisions found in %s", replayDB)}
		}
		f = base.FromDecisions("decision log of "+replayDB, entries)
		f.Config = replay.FixtureConfig{
			StopDwellSeconds: cfg.Policy.StopDwell.Seconds(),
			SpeedLimit:       cfg.Policy.SpeedLimit,
			Parallelism:      cfg.Arbiter.Parallelism,
		}
	}

	a, err := f.Build(logging.NopLogger())
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	results, err := replay.Replay(cmd.Context(), a, f.Events)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	out := cmd.OutOrStdout()
	diverge := printComparison(out, f, replay.Requests(results), replayQuiet)
	s := replay.Summarize(results)
	fmt.Fprintf(out, "Ticks: %d, requests: %d (%d admitted, %d rejected), enters: %d, exits: %d\n",
		s.Ticks, s.Requests, s.Admitted, s.Rejected, s.Enters, s.Exits)
	if diverge > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}

// printComparison outputs a comparison table and returns the number of
// diverging decisions, counting missing or extra results.
func printComparison(w io.Writer, f *replay.Fixture, results []replay.Result, quiet bool) int {
	if !quiet {
		fmt.Fprintf(w, "%-6s| %-10s| %-8s| %-26s| %-26s| %s\n", "Tick", "Isect", "Car", "Expected", "Replayed", "Match")
		fmt.Fprintf(w, "%-6s+%-11s+%-9s+%-27s+%-27s+%s\n",
			"------", "-----------", "---------", "---------------------------", "---------------------------", "------")
	}

	total := min(len(results), len(f.ExpectedResults))
	matches := 0
	for i := 0; i < total; i++ {
		exp, got := f.ExpectedResults[i], results[i]
		match := "DIFF"
		if exp.Tick == got.Tick && exp.Intersection == got.Intersection && exp.Car == got.Car &&
			exp.Admitted == got.Admitted && exp.Reason == got.Reason {
			match = "OK"
			matches++
		}
		if !quiet {
			fmt.Fprintf(w, "%-6d| %-10s| %-8d| %-26s| %-26s| %s\n",
				got.Tick, got.Intersection, uint64(got.Car), outcome(exp.Admitted, exp.Reason), outcome(got.Admitted, got.Reason), match)
		}
	}

	extra := len(results) + len(f.ExpectedResults) - 2*total
	diverge := total - matches + extra
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", max(len(results), len(f.ExpectedResults)), matches, diverge)
	return diverge
}

func outcome(admitted bool, reason string) string {
	if admitted {
		return "admit/" + reason
	}
	return "reject/" + reason
}

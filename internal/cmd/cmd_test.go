package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/replay"
	"github.com/danielpatrickdp/intersection-controller/internal/rpc"
)

var stopYield = filepath.Join("..", "replay", "testdata", "stop_yield.json")

// executeCommand runs the root command with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func exitCode(err error) int {
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if err != nil {
		return 1
	}
	return 0
}

// recordDecisions replays the stop_yield fixture into a decision log.
func recordDecisions(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.db")
	store, err := checkpoint.NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	dl, err := logging.NewDecisionLog(store.DB())
	require.NoError(t, err)

	f, err := replay.LoadFixture(stopYield)
	require.NoError(t, err)
	a, err := f.Build(nil)
	require.NoError(t, err)
	a.SetSink(dl)

	// Checkpoint while car 2 holds the intersection, then finish the trace.
	split := len(f.Events) - 1
	_, err = replay.Replay(context.Background(), a, f.Events[:split])
	require.NoError(t, err)
	_, err = store.Save(a.Checkpoint(16))
	require.NoError(t, err)
	_, err = replay.Replay(context.Background(), a, f.Events[split:])
	require.NoError(t, err)
	return path
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "replay", "inspect", "rollback", "export", "geojson"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestReplay_FixtureMatches(t *testing.T) {
	out, err := executeCommand(t, "replay", "--fixture", stopYield)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Summary: 8 total, 8 match, 0 diverge")
	assert.Contains(t, out, "reject/conflicts_with_accepted")
}

func TestReplay_DriftExitsOne(t *testing.T) {
	f, err := replay.LoadFixture(stopYield)
	require.NoError(t, err)
	f.ExpectedResults[len(f.ExpectedResults)-1].Reason = "admitted"
	path := filepath.Join(t.TempDir(), "drift.json")
	require.NoError(t, f.Save(path))

	out, err := executeCommand(t, "replay", "--fixture", path, "--quiet")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "1 diverge")
	assert.NotContains(t, out, "Expected", "quiet mode omits the table")
}

func TestReplay_MissingFixtureExitsTwo(t *testing.T) {
	_, err := executeCommand(t, "replay", "--fixture", filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, 2, exitCode(err))
}

func TestReplay_RequiresAMode(t *testing.T) {
	_, err := executeCommand(t, "replay")
	assert.Error(t, err)
}

func TestReplay_DBMode(t *testing.T) {
	db := recordDecisions(t)
	out, err := executeCommand(t, "replay", "--db", db, "--map", stopYield)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 diverge")
}

func TestExport_ThenReplay(t *testing.T) {
	db := recordDecisions(t)
	outPath := filepath.Join(t.TempDir(), "exported.json")

	out, err := executeCommand(t, "export", "--db", db, "--map", stopYield, "--out", outPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote 12 events, 8 expected results")

	f, err := replay.LoadFixture(outPath)
	require.NoError(t, err)
	assert.Equal(t, "exported from "+db, f.Description)

	out, err = executeCommand(t, "replay", "--fixture", outPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "8 match, 0 diverge")
}

func TestInspect_ListAndDetail(t *testing.T) {
	db := recordDecisions(t)

	out, err := executeCommand(t, "inspect", "--db", db, "--json")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"tick": 16`)
	assert.Contains(t, out, `"active": true`)

	store, err := checkpoint.NewStore(db)
	require.NoError(t, err)
	cur, err := store.GetCurrent()
	require.NoError(t, err)
	store.Close()

	out, err = executeCommand(t, "inspect", "--db", db, "--version", cur.VersionID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "i1 [stop_sign]")
	assert.Contains(t, out, "car-2")
}

func TestInspect_EmptyStore(t *testing.T) {
	out, err := executeCommand(t, "inspect", "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "no checkpoints found")
}

func TestRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbiter.db")
	store, err := checkpoint.NewStore(path)
	require.NoError(t, err)
	_, err = store.Save(checkpoint.Checkpoint{VersionID: "first", Tick: 1})
	require.NoError(t, err)
	_, err = store.Save(checkpoint.Checkpoint{VersionID: "second", Tick: 2})
	require.NoError(t, err)
	store.Close()

	out, err := executeCommand(t, "rollback", "--db", path, "first")
	require.NoError(t, err, out)
	assert.Contains(t, out, "active checkpoint: first")

	_, err = executeCommand(t, "rollback", "--db", path, "missing")
	assert.Error(t, err)
}

func TestGeoJSON(t *testing.T) {
	out, err := executeCommand(t, "geojson", stopYield)
	require.NoError(t, err, out)
	assert.Contains(t, out, "FeatureCollection")
	assert.Contains(t, out, `"turn_id":"t1"`)

	path := filepath.Join(t.TempDir(), "turns.geojson")
	_, err = executeCommand(t, "geojson", stopYield, "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "LineString"))
}

// syncBuffer lets the test read output while serve is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var servingAddr = regexp.MustCompile(`serving \d+ intersections on (\S+)\n`)

func TestServe_AnswersUntilCancelled(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)
	db := filepath.Join(t.TempDir(), "serve.db")

	out := &syncBuffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs([]string{"serve", "--map", stopYield, "--db", db, "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		m := servingAddr.FindStringSubmatch(out.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	}, 5*time.Second, 10*time.Millisecond, "server never reported its address")

	client, err := rpc.NewClient(addr)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()
	d, err := client.RequestAdmission(callCtx, arbiter.Request{Intersection: "i1", Car: 1, Turn: "t2"})
	require.NoError(t, err)
	assert.True(t, d.Admitted)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	store, err := checkpoint.NewStore(db)
	require.NoError(t, err)
	defer store.Close()
	entries, err := logging.ListDecisions(store.DB())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admitted", entries[0].Reason)
}

package policy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

func mixedControls(t *testing.T) *control.Map {
	t.Helper()
	m, err := control.NewMap(
		[]*control.StopSign{stopSignControl("i1", map[sim.TurnID]control.TurnPriority{
			"t1": control.Stop,
			"t2": control.Yield,
		})},
		[]*control.TrafficSignal{{
			Intersection: "s1",
			Cycles:       []control.Cycle{{Turns: []sim.TurnID{"t7"}, Duration: 10 * time.Second}},
		}},
	)
	require.NoError(t, err)
	return m
}

func mixedGeometry() *fakeGeometry {
	g := newFakeGeometry("i1", "t1", "t2").conflict("t1", "t2")
	g.isect["t7"] = "s1"
	g.lengths["t7"] = 20
	return g
}

func TestForIntersection_PicksVariant(t *testing.T) {
	controls := mixedControls(t)
	env := testEnv(mixedGeometry())

	p, err := ForIntersection("i1", controls, env)
	require.NoError(t, err)
	assert.Equal(t, KindStopSign, p.Kind())
	assert.NotNil(t, p.StopSign())
	assert.Nil(t, p.TrafficSignal())

	p, err = ForIntersection("s1", controls, env)
	require.NoError(t, err)
	assert.Equal(t, KindTrafficSignal, p.Kind())

	_, err = ForIntersection("nope", controls, env)
	assert.Error(t, err)
}

func TestSnapshot_DeterministicJSON(t *testing.T) {
	controls := mixedControls(t)
	env := testEnv(mixedGeometry())

	build := func(order []sim.CarID) []byte {
		p, err := ForIntersection("i1", controls, env)
		require.NoError(t, err)
		require.True(t, p.RequestAdmission(50, "t2", 0))
		for _, car := range order {
			p.RequestAdmission(car, "t1", sim.Tick(car))
		}
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		return raw
	}

	a := build([]sim.CarID{3, 1, 2, 10})
	b := build([]sim.CarID{10, 2, 1, 3})
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"kind":"stop_sign"`)
	assert.NotContains(t, string(a), `"traffic_signal"`)
}

func TestRestore_ResumesStopSign(t *testing.T) {
	controls := mixedControls(t)
	env := testEnv(mixedGeometry())

	p, err := ForIntersection("i1", controls, env)
	require.NoError(t, err)
	require.True(t, p.RequestAdmission(2, "t2", 0))
	require.False(t, p.RequestAdmission(1, "t1", 0))

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored, err := Restore(snap, controls, env)
	require.NoError(t, err)
	assert.Equal(t, p.Snapshot(), restored.Snapshot())

	// The restored policy keeps A's first-wait tick of 0.
	restored.OnExit(2)
	assert.True(t, restored.RequestAdmission(1, "t1", 15))
	// The original is untouched.
	assert.True(t, p.IsAccepted(2))
}

func TestRestore_ResumesTrafficSignal(t *testing.T) {
	controls := mixedControls(t)
	env := testEnv(mixedGeometry())

	p, err := ForIntersection("s1", controls, env)
	require.NoError(t, err)
	require.True(t, p.RequestAdmission(4, "t7", 0))

	restored, err := Restore(p.Snapshot(), controls, env)
	require.NoError(t, err)
	assert.True(t, restored.IsAccepted(4))
	assert.Equal(t, map[sim.CarID]sim.TurnID{4: "t7"}, restored.Accepted())
}

func TestRestore_RejectsBrokenSnapshots(t *testing.T) {
	controls := mixedControls(t)
	env := testEnv(mixedGeometry())

	conflicting := Snapshot{
		Kind:         KindStopSign,
		Intersection: "i1",
		StopSign: &StopSignState{
			Accepted: map[sim.CarID]sim.TurnID{1: "t1", 2: "t2"},
		},
	}
	_, err := Restore(conflicting, controls, env)
	assert.ErrorContains(t, err, "conflicts with")

	both := Snapshot{
		Kind:         KindStopSign,
		Intersection: "i1",
		StopSign: &StopSignState{
			Accepted:         map[sim.CarID]sim.TurnID{1: "t1"},
			Waiting:          map[sim.CarID]sim.TurnID{1: "t1"},
			StartedWaitingAt: map[sim.CarID]sim.Tick{1: 0},
		},
	}
	_, err = Restore(both, controls, env)
	assert.ErrorContains(t, err, "both accepted and waiting")

	wrongKind := Snapshot{Kind: KindTrafficSignal, Intersection: "i1", TrafficSignal: &TrafficSignalState{}}
	_, err = Restore(wrongKind, controls, env)
	assert.Error(t, err)

	_, err = Restore(Snapshot{Kind: "roundabout", Intersection: "i1"}, controls, env)
	assert.ErrorContains(t, err, "unknown policy kind")
}

func TestRestore_RejectsUnknownTurns(t *testing.T) {
	controls := mixedControls(t)
	geo := mixedGeometry()
	geo.isect["t3"] = "i1"
	geo.isect["t8"] = "s1"
	env := testEnv(geo)

	cases := map[string]Snapshot{
		"missing from geometry": {
			Kind:         KindStopSign,
			Intersection: "i1",
			StopSign:     &StopSignState{Accepted: map[sim.CarID]sim.TurnID{7: "ghost"}},
		},
		"waiting on another intersection's turn": {
			Kind:         KindStopSign,
			Intersection: "i1",
			StopSign: &StopSignState{
				Waiting:          map[sim.CarID]sim.TurnID{3: "t7"},
				StartedWaitingAt: map[sim.CarID]sim.Tick{3: 0},
			},
		},
		"no configured priority": {
			Kind:         KindStopSign,
			Intersection: "i1",
			StopSign:     &StopSignState{Accepted: map[sim.CarID]sim.TurnID{1: "t3"}},
		},
		"signal turn outside every cycle": {
			Kind:          KindTrafficSignal,
			Intersection:  "s1",
			TrafficSignal: &TrafficSignalState{Accepted: map[sim.CarID]sim.TurnID{4: "t8"}},
		},
	}
	for name, snap := range cases {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Restore(snap, controls, env) })
			assert.ErrorIs(t, err, ErrUnknownTurn)
		})
	}
}

func TestStopSign_UnconfiguredTurnIsProtocolError(t *testing.T) {
	geo := mixedGeometry()
	geo.isect["t3"] = "i1"
	p, err := ForIntersection("i1", mixedControls(t), testEnv(geo))
	require.NoError(t, err)

	for _, turn := range []sim.TurnID{"t3", "ghost"} {
		perr := recoverProtocolError(func() { p.RequestAdmission(1, turn, 0) })
		require.NotNil(t, perr, "turn %s", turn)
		assert.ErrorIs(t, perr, ErrUnknownTurn)
	}
	assert.Empty(t, p.StopSign().State().Waiting)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 1500*time.Millisecond, DefaultConfig().StopDwell)

	bad := DefaultConfig()
	bad.SpeedLimit = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.StopDwell = -time.Second
	assert.Error(t, bad.Validate())
}

package policy

import (
	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// fakeGeometry answers conflict queries from an explicit table.
type fakeGeometry struct {
	isect     map[sim.TurnID]sim.IntersectionID
	lengths   map[sim.TurnID]float64
	conflicts map[[2]sim.TurnID]bool
}

func newFakeGeometry(isect sim.IntersectionID, turns ...sim.TurnID) *fakeGeometry {
	g := &fakeGeometry{
		isect:     make(map[sim.TurnID]sim.IntersectionID),
		lengths:   make(map[sim.TurnID]float64),
		conflicts: make(map[[2]sim.TurnID]bool),
	}
	for _, t := range turns {
		g.isect[t] = isect
		g.lengths[t] = 10
	}
	return g
}

func (g *fakeGeometry) conflict(a, b sim.TurnID) *fakeGeometry {
	g.conflicts[[2]sim.TurnID{a, b}] = true
	g.conflicts[[2]sim.TurnID{b, a}] = true
	return g
}

func (g *fakeGeometry) HasTurn(id sim.TurnID) bool {
	_, ok := g.isect[id]
	return ok
}

func (g *fakeGeometry) Conflicts(a, b sim.TurnID) bool { return g.conflicts[[2]sim.TurnID{a, b}] }

func (g *fakeGeometry) TurnLength(id sim.TurnID) float64 { return g.lengths[id] }

func (g *fakeGeometry) TurnIntersection(id sim.TurnID) sim.IntersectionID { return g.isect[id] }

func testEnv(g TurnGeometry) Env {
	return Env{Geometry: g, Config: DefaultConfig()}
}

func stopSignControl(id sim.IntersectionID, prios map[sim.TurnID]control.TurnPriority) *control.StopSign {
	return &control.StopSign{Intersection: id, Turns: prios}
}

// recoverProtocolError runs fn and returns the *ProtocolError it panicked with.
func recoverProtocolError(fn func()) (perr *ProtocolError) {
	defer func() {
		if r := recover(); r != nil {
			perr, _ = r.(*ProtocolError)
		}
	}()
	fn()
	return nil
}

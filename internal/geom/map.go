package geom

import (
	"fmt"
	"sort"

	geojson "github.com/paulmach/go.geojson"
	"github.com/pkg/errors"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region map

// Map holds the geometry of every turn in the simulated network and answers
// conflict and length queries about them.
type Map struct {
	turns map[sim.TurnID]*Turn
}

// NewMap indexes the given turns. Duplicate ids and degenerate polylines are rejected.
func NewMap(turns ...*Turn) (*Map, error) {
	m := &Map{turns: make(map[sim.TurnID]*Turn, len(turns))}
	for _, t := range turns {
		if err := m.add(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Map) add(t *Turn) error {
	if t == nil {
		return errors.New("nil turn")
	}
	if t.ID == "" {
		return errors.New("turn without id")
	}
	if len(t.Line) < 2 {
		return errors.Errorf("turn %s: polyline needs at least 2 points, got %d", t.ID, len(t.Line))
	}
	if _, ok := m.turns[t.ID]; ok {
		return errors.Errorf("duplicate turn %s", t.ID)
	}
	m.turns[t.ID] = t
	return nil
}

// Turn returns the turn with the given id. Panics if the turn is unknown,
// since every turn id in the simulation originates from this map.
func (m *Map) Turn(id sim.TurnID) *Turn {
	t, ok := m.turns[id]
	if !ok {
		panic(fmt.Sprintf("geom: unknown turn %s", id))
	}
	return t
}

// Lookup returns the turn with the given id, if present.
func (m *Map) Lookup(id sim.TurnID) (*Turn, bool) {
	t, ok := m.turns[id]
	return t, ok
}

// HasTurn reports whether id is a known turn.
func (m *Map) HasTurn(id sim.TurnID) bool {
	_, ok := m.turns[id]
	return ok
}

// Conflicts reports whether turns a and b cannot be executed simultaneously.
func (m *Map) Conflicts(a, b sim.TurnID) bool {
	return m.Turn(a).ConflictsWith(m.Turn(b))
}

// TurnLength returns the traversal length of a turn in meters.
func (m *Map) TurnLength(id sim.TurnID) float64 {
	return m.Turn(id).Length()
}

// TurnIntersection returns the intersection a turn passes through.
func (m *Map) TurnIntersection(id sim.TurnID) sim.IntersectionID {
	return m.Turn(id).Intersection
}

// Turns returns all turns sorted by id.
func (m *Map) Turns() []*Turn {
	out := make([]*Turn, 0, len(m.turns))
	for _, t := range m.turns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TurnsAt returns the turns of one intersection sorted by id.
func (m *Map) TurnsAt(id sim.IntersectionID) []*Turn {
	var out []*Turn
	for _, t := range m.Turns() {
		if t.Intersection == id {
			out = append(out, t)
		}
	}
	return out
}

// #endregion map

// #region geojson

// FeatureCollection exports every turn as a GeoJSON LineString feature.
func (m *Map) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range m.Turns() {
		coords := make([][]float64, len(t.Line))
		for i, pt := range t.Line {
			coords[i] = []float64{pt.X(), pt.Y()}
		}
		f := geojson.NewLineStringFeature(coords)
		f.SetProperty("turn_id", string(t.ID))
		f.SetProperty("intersection_id", string(t.Intersection))
		f.SetProperty("length", t.Length())
		fc.AddFeature(f)
	}
	return fc
}

// GeoJSON marshals FeatureCollection.
func (m *Map) GeoJSON() ([]byte, error) {
	b, err := m.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "marshal turns")
	}
	return b, nil
}

// #endregion geojson

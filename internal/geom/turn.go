package geom

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region turn

// Turn is the path a car follows through an intersection from an entry lane
// to an exit lane. Line is in planar meters.
type Turn struct {
	ID           sim.TurnID
	Intersection sim.IntersectionID
	Line         orb.LineString
}

// Length returns the traversal length of the turn in meters.
func (t *Turn) Length() float64 {
	return planar.Length(t.Line)
}

// Start is the point where the turn leaves its entry lane.
func (t *Turn) Start() orb.Point {
	return t.Line[0]
}

// End is the point where the turn joins its exit lane.
func (t *Turn) End() orb.Point {
	return t.Line[len(t.Line)-1]
}

// ConflictsWith reports whether executing t and other at the same time is
// unsafe. Turns leaving the same entry point queue behind each other and never
// conflict; turns merging into the same exit point always do.
func (t *Turn) ConflictsWith(other *Turn) bool {
	if t.Start() == other.Start() {
		return false
	}
	if t.End() == other.End() {
		return true
	}
	for i := 1; i < len(t.Line); i++ {
		for j := 1; j < len(other.Line); j++ {
			if segmentsIntersect(t.Line[i-1], t.Line[i], other.Line[j-1], other.Line[j]) {
				return true
			}
		}
	}
	return false
}

// #endregion turn

// #region segment-math

// segmentsIntersect reports whether segments p1p2 and p3p4 share any point.
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// Collinear cases
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}

// orientation is the cross product of (b-a) and (c-a).
func orientation(a, b, c orb.Point) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

// onSegment assumes c is collinear with ab.
func onSegment(a, b, c orb.Point) bool {
	return min(a.X(), b.X()) <= c.X() && c.X() <= max(a.X(), b.X()) &&
		min(a.Y(), b.Y()) <= c.Y() && c.Y() <= max(a.Y(), b.Y())
}

// #endregion segment-math

// Package geometry turns routable ways into lines and samples points along them.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/osm"
)

// Way is a raw routable way as returned by the geometry source. Vertices are (lon, lat).
type Way struct {
	ID       osm.WayID
	Tags     osm.Tags
	Vertices orb.LineString
}

// Line is a Way reinterpreted as a continuous geodesic path.
type Line struct {
	wayID  osm.WayID
	path   orb.LineString
	length float64
}

// NewLine builds a Line from a path with at least two vertices.
func NewLine(id osm.WayID, path orb.LineString) (Line, bool) {
	if len(path) < 2 {
		return Line{}, false
	}
	cp := make(orb.LineString, len(path))
	copy(cp, path)
	return Line{wayID: id, path: cp, length: geo.LengthHaversine(cp)}, true
}

// BuildLines converts ways into lines. Ways with fewer than two vertices are dropped.
func BuildLines(ways []Way) []Line {
	lines := make([]Line, 0, len(ways))
	for _, w := range ways {
		if line, ok := NewLine(w.ID, w.Vertices); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

// WayID returns the identifier of the source way.
func (l Line) WayID() osm.WayID {
	return l.wayID
}

// Length returns the geodesic length of the line in meters.
func (l Line) Length() float64 {
	return l.length
}

// PointAt returns the position at distance meters along the line, walking its segments.
// A distance that lands on a vertex returns that vertex unchanged; distances past the
// end clamp to the last vertex.
func (l Line) PointAt(distance float64) orb.Point {
	if len(l.path) == 0 {
		return orb.Point{}
	}
	if distance <= 0 {
		return l.path[0]
	}
	travelled := 0.0
	for i := 0; i < len(l.path)-1; i++ {
		from, to := l.path[i], l.path[i+1]
		segment := geo.DistanceHaversine(from, to)
		if travelled+segment >= distance {
			remaining := distance - travelled
			switch {
			case remaining == 0:
				return from
			case remaining == segment:
				return to
			}
			return geo.PointAtBearingAndDistance(from, geo.Bearing(from, to), remaining)
		}
		travelled += segment
	}
	return l.path[len(l.path)-1]
}

package zones

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a vertex of a zone polygon. On the wire and in config files a
// point is a two-element [x, y] array.
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts a two-element [x, y] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw [2]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("point must be a [x, y] array: %w", err)
	}
	p.X, p.Y = raw[0], raw[1]
	return nil
}

// Zone is a named polygonal region of interest within the camera frame.
// Zones are configuration-time data, immutable during a session.
type Zone struct {
	ID      string  `json:"-"`
	Name    string  `json:"name"`
	Enabled bool    `json:"enabled"`
	Polygon []Point `json:"polygon"`
}

// Validate checks the structural invariants of a zone.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone has empty id")
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("zone %q polygon has %d points, need at least 3", z.ID, len(z.Polygon))
	}
	return nil
}

// Rect is an axis-aligned bounding box in pixel coordinates.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Height returns the box height in pixels.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// samplePoints returns the five test points for a box: the four corners
// plus the centroid. A cheap symmetric approximation of box/polygon
// overlap, adequate for coarse counter and table zones.
func samplePoints(box Rect) [5]Point {
	return [5]Point{
		{box.X1, box.Y1},
		{box.X2, box.Y1},
		{box.X2, box.Y2},
		{box.X1, box.Y2},
		{(box.X1 + box.X2) / 2, (box.Y1 + box.Y2) / 2},
	}
}

// Classify returns the ids of every enabled zone hit by the box. A zone is
// hit when any of the five sample points lies inside or on the boundary of
// its polygon. Pure function: no side effects, empty result allowed.
func Classify(box Rect, zones []Zone) []string {
	var hits []string
	points := samplePoints(box)
	for _, zone := range zones {
		if !zone.Enabled {
			continue
		}
		for _, p := range points {
			if Contains(zone.Polygon, p) {
				hits = append(hits, zone.ID)
				break
			}
		}
	}
	return hits
}

const boundaryEpsilon = 1e-9

// Contains reports whether p lies inside or on the boundary of the polygon.
// Ray casting with an explicit on-segment check so the boundary counts as
// inside.
func Contains(polygon []Point, p Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		if onSegment(polygon[i], polygon[(i+1)%n], p) {
			return true
		}
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			crossX := pi.X + (p.Y-pi.Y)*(pj.X-pi.X)/(pj.Y-pi.Y)
			if p.X < crossX {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// onSegment reports whether p lies on the segment ab.
func onSegment(a, b, p Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > boundaryEpsilon {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-boundaryEpsilon &&
		p.X <= math.Max(a.X, b.X)+boundaryEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-boundaryEpsilon &&
		p.Y <= math.Max(a.Y, b.Y)+boundaryEpsilon
}

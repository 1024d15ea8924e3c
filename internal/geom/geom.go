package geom

import "math"

// Pt is a planar point in metres. Network geometry is assumed to already be
// projected; the engine never works in lat/lon.
type Pt struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two points in metres.
func Dist(a, b Pt) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// PolylineLength returns the total length of a polyline in metres.
func PolylineLength(pts []Pt) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += Dist(pts[i-1], pts[i])
	}
	return total
}

// PositionAt returns the point and heading (radians, east = 0, counter
// clockwise) at dist metres along the polyline. The distance is clamped to
// the polyline's extent, so callers can pass slightly-out-of-range values
// produced by floating point accumulation.
func PositionAt(pts []Pt, dist float64) (Pt, float64) {
	if len(pts) == 0 {
		return Pt{}, 0
	}
	if len(pts) == 1 {
		return pts[0], 0
	}
	if dist <= 0 {
		return pts[0], headingOf(pts[0], pts[1])
	}

	remaining := dist
	for i := 1; i < len(pts); i++ {
		seg := Dist(pts[i-1], pts[i])
		if remaining <= seg && seg > 0 {
			t := remaining / seg
			p := Pt{
				X: pts[i-1].X + (pts[i].X-pts[i-1].X)*t,
				Y: pts[i-1].Y + (pts[i].Y-pts[i-1].Y)*t,
			}
			return p, headingOf(pts[i-1], pts[i])
		}
		remaining -= seg
	}

	// Past the end: clamp to the final point.
	n := len(pts)
	return pts[n-1], headingOf(pts[n-2], pts[n-1])
}

func headingOf(a, b Pt) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// SegmentsIntersect reports whether segments ab and cd properly intersect or
// touch. Used once at network build time to derive turn conflict sets.
func SegmentsIntersect(a, b, c, d Pt) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(c, d, a) {
		return true
	}
	if d2 == 0 && onSegment(c, d, b) {
		return true
	}
	if d3 == 0 && onSegment(a, b, c) {
		return true
	}
	if d4 == 0 && onSegment(a, b, d) {
		return true
	}
	return false
}

// PolylinesCross reports whether any segment of p crosses any segment of q.
func PolylinesCross(p, q []Pt) bool {
	for i := 1; i < len(p); i++ {
		for j := 1; j < len(q); j++ {
			if SegmentsIntersect(p[i-1], p[i], q[j-1], q[j]) {
				return true
			}
		}
	}
	return false
}

func cross(a, b, p Pt) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

func onSegment(a, b, p Pt) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

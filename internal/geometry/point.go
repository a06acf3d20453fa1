// Package geometry holds the planar math shared by calibration and the
// frame pipeline: points, rotated rectangles, hulls and homographies.
package geometry

import (
	"math"
	"sort"
)

// Point is a sub-pixel image coordinate.
type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point     { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point     { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Scale(s float64) Point { return Point{p.X * s, p.Y * s} }
func (p Point) Dist(q Point) float64  { return math.Hypot(p.X-q.X, p.Y-q.Y) }
func (p Point) Cross(q Point) float64 { return p.X*q.Y - p.Y*q.X }
func (p Point) Dot(q Point) float64   { return p.X*q.X + p.Y*q.Y }
func (p Point) Norm() float64         { return math.Hypot(p.X, p.Y) }

// Rotate turns p around center by theta radians (clockwise on screen,
// since image y grows downward).
func (p Point) Rotate(center Point, theta float64) Point {
	s, c := math.Sincos(theta)
	d := p.Sub(center)
	return Point{center.X + d.X*c - d.Y*s, center.Y + d.X*s + d.Y*c}
}

// Mean returns the arithmetic mean of pts.
func Mean(pts []Point) Point {
	var m Point
	if len(pts) == 0 {
		return m
	}
	for _, p := range pts {
		m = m.Add(p)
	}
	return m.Scale(1 / float64(len(pts)))
}

// Centroid returns the area centroid of a simple polygon, falling back
// to the vertex mean for degenerate input.
func Centroid(poly []Point) Point {
	var a, cx, cy float64
	n := len(poly)
	for i := 0; i < n; i++ {
		p, q := poly[i], poly[(i+1)%n]
		cross := p.Cross(q)
		a += cross
		cx += (p.X + q.X) * cross
		cy += (p.Y + q.Y) * cross
	}
	if math.Abs(a) < 1e-9 {
		return Mean(poly)
	}
	a *= 0.5
	return Point{cx / (6 * a), cy / (6 * a)}
}

// SortCorners orders four points top-left, top-right, bottom-right,
// bottom-left by comparing each against the centroid of all four.
func SortCorners(pts [4]Point) [4]Point {
	center := Mean(pts[:])
	var top, bottom []Point
	for _, p := range pts {
		if p.Y < center.Y {
			top = append(top, p)
		} else {
			bottom = append(bottom, p)
		}
	}

	if len(top) == 2 && len(bottom) == 2 {
		tl, tr := top[0], top[1]
		if tl.X > tr.X {
			tl, tr = tr, tl
		}
		bl, br := bottom[0], bottom[1]
		if bl.X > br.X {
			bl, br = br, bl
		}
		return [4]Point{tl, tr, br, bl}
	}

	// Diamond-shaped input: order by angle, starting from the point
	// nearest the top-left.
	sorted := pts
	sort.Slice(sorted[:], func(i, j int) bool {
		return angleFrom(center, sorted[i]) < angleFrom(center, sorted[j])
	})
	start := 0
	for i := range sorted {
		if sorted[i].X+sorted[i].Y < sorted[start].X+sorted[start].Y {
			start = i
		}
	}
	var out [4]Point
	for i := range out {
		out[i] = sorted[(start+i)%4]
	}
	return out
}

func angleFrom(c, p Point) float64 {
	return math.Atan2(p.Y-c.Y, p.X-c.X)
}

// ConvexHull returns the hull of pts in counter-clockwise order
// (monotone chain). Collinear points are dropped.
func ConvexHull(pts []Point) []Point {
	if len(pts) < 3 {
		return append([]Point(nil), pts...)
	}
	ps := append([]Point(nil), pts...)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})

	hull := make([]Point, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && hull[len(hull)-1].Sub(hull[len(hull)-2]).Cross(p.Sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && hull[len(hull)-1].Sub(hull[len(hull)-2]).Cross(p.Sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// EvenCeil rounds n up to the next even integer.
func EvenCeil(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

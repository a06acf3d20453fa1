package geometry

import (
	"image"
	"math"
)

// RotatedRect is a rectangle of the given size centered on Center and
// turned by Angle radians.
type RotatedRect struct {
	Center Point
	Width  float64
	Height float64
	Angle  float64
}

// Points returns the corners, starting from the one that is top-left
// before rotation and proceeding clockwise on screen.
func (r RotatedRect) Points() [4]Point {
	hw, hh := r.Width/2, r.Height/2
	local := [4]Point{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	var out [4]Point
	for i, p := range local {
		out[i] = r.Center.Add(p).Rotate(r.Center, r.Angle)
	}
	return out
}

// BoundingRect returns the smallest integer rectangle containing the
// rotated rectangle.
func (r RotatedRect) BoundingRect() image.Rectangle {
	pts := r.Points()
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	x0, y0 := int(math.Floor(minX)), int(math.Floor(minY))
	return image.Rect(x0, y0, int(math.Ceil(maxX))+1, int(math.Ceil(maxY))+1)
}

// Area returns width*height.
func (r RotatedRect) Area() float64 {
	return r.Width * r.Height
}

// MinAreaRect finds the minimum-area rectangle enclosing pts using
// rotating calipers over the convex hull edges.
func MinAreaRect(pts []Point) RotatedRect {
	hull := ConvexHull(pts)
	switch len(hull) {
	case 0:
		return RotatedRect{}
	case 1:
		return RotatedRect{Center: hull[0]}
	case 2:
		d := hull[1].Sub(hull[0])
		return RotatedRect{
			Center: Mean(hull),
			Width:  d.Norm(),
			Angle:  math.Atan2(d.Y, d.X),
		}
	}

	best := RotatedRect{Width: math.Inf(1), Height: math.Inf(1)}
	for i := range hull {
		edge := hull[(i+1)%len(hull)].Sub(hull[i])
		length := edge.Norm()
		if length == 0 {
			continue
		}
		u := edge.Scale(1 / length)
		v := Point{-u.Y, u.X}

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			pu, pv := p.Dot(u), p.Dot(v)
			minU, maxU = math.Min(minU, pu), math.Max(maxU, pu)
			minV, maxV = math.Min(minV, pv), math.Max(maxV, pv)
		}

		w, h := maxU-minU, maxV-minV
		if w*h < best.Area() {
			cu, cv := (minU+maxU)/2, (minV+maxV)/2
			best = RotatedRect{
				Center: u.Scale(cu).Add(v.Scale(cv)),
				Width:  w,
				Height: h,
				Angle:  math.Atan2(u.Y, u.X),
			}
		}
	}
	return normalizeRect(best)
}

// normalizeRect keeps Angle in (-pi/4, pi/4] by swapping sides, so an
// almost axis-aligned input yields an almost zero angle.
func normalizeRect(r RotatedRect) RotatedRect {
	for r.Angle > math.Pi/4 {
		r.Angle -= math.Pi / 2
		r.Width, r.Height = r.Height, r.Width
	}
	for r.Angle <= -math.Pi/4 {
		r.Angle += math.Pi / 2
		r.Width, r.Height = r.Height, r.Width
	}
	return r
}

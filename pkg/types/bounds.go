package types

import (
	"fmt"
	"image"
)

// Bounds is the axis-aligned projection area in camera pixels.
type Bounds struct {
	MinX   int `json:"min_x" toml:"min_x"`
	MinY   int `json:"min_y" toml:"min_y"`
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`
}

// Rect converts the bounds to an image.Rectangle.
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.MinX, b.MinY, b.MinX+b.Width, b.MinY+b.Height)
}

// Contains reports whether (x, y) lies inside the bounds.
func (b Bounds) Contains(x, y float64) bool {
	return x >= float64(b.MinX) && y >= float64(b.MinY) &&
		x < float64(b.MinX+b.Width) && y < float64(b.MinY+b.Height)
}

// IsZero reports whether the bounds cover no pixels.
func (b Bounds) IsZero() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Area returns width*height.
func (b Bounds) Area() int {
	return b.Width * b.Height
}

// Clip limits b to a width x height image. Bounds entirely outside the
// image clip to the zero value.
func (b Bounds) Clip(width, height int) Bounds {
	r := b.Rect().Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return Bounds{}
	}
	return Bounds{MinX: r.Min.X, MinY: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b Bounds) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", b.MinX, b.MinY, b.Width, b.Height)
}

// Dimension is a width/height pair in camera-pixel units.
type Dimension struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

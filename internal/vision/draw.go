package vision

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
)

// FillConvexPoly sets every pixel of g whose center lies inside the
// convex polygon to v.
func FillConvexPoly(g *image.Gray, poly []geometry.Point, v uint8) {
	if len(poly) < 3 {
		return
	}
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range poly {
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	b := g.Bounds()
	y0 := max(b.Min.Y, int(math.Ceil(minY)))
	y1 := min(b.Max.Y-1, int(math.Floor(maxY)))
	for y := y0; y <= y1; y++ {
		fy := float64(y)
		left, right := math.Inf(1), math.Inf(-1)
		for i := range poly {
			p, q := poly[i], poly[(i+1)%len(poly)]
			if (p.Y <= fy && q.Y >= fy) || (q.Y <= fy && p.Y >= fy) {
				var x float64
				if p.Y == q.Y {
					left, right = math.Min(left, math.Min(p.X, q.X)), math.Max(right, math.Max(p.X, q.X))
					continue
				}
				x = p.X + (fy-p.Y)*(q.X-p.X)/(q.Y-p.Y)
				left, right = math.Min(left, x), math.Max(right, x)
			}
		}
		if left > right {
			continue
		}
		x0 := max(b.Min.X, int(math.Ceil(left)))
		x1 := min(b.Max.X-1, int(math.Floor(right)))
		row := g.Pix[(y-b.Min.Y)*g.Stride:]
		for x := x0; x <= x1; x++ {
			row[x-b.Min.X] = v
		}
	}
}

// DrawChessboard paints a calibration board filling rect: a white
// field with a border of borderFactor squares around (cols+1) x (rows+1)
// alternating squares, the top-left one dark. Squares are stretched to
// fit, so they are only square when rect has the board's aspect ratio.
func DrawChessboard(dst draw.Image, rect image.Rectangle, cols, rows int, borderFactor float64, dark, light color.Color) {
	draw.Draw(dst, rect, image.NewUniform(light), image.Point{}, draw.Src)

	sw := float64(rect.Dx()) / (float64(cols+1) + 2*borderFactor)
	sh := float64(rect.Dy()) / (float64(rows+1) + 2*borderFactor)
	ox := float64(rect.Min.X) + borderFactor*sw
	oy := float64(rect.Min.Y) + borderFactor*sh

	src := image.NewUniform(dark)
	for j := 0; j <= rows; j++ {
		for i := 0; i <= cols; i++ {
			if (i+j)%2 != 0 {
				continue
			}
			sq := image.Rect(
				int(math.Round(ox+float64(i)*sw)), int(math.Round(oy+float64(j)*sh)),
				int(math.Round(ox+float64(i+1)*sw)), int(math.Round(oy+float64(j+1)*sh)),
			)
			draw.Draw(dst, sq, src, image.Point{}, draw.Src)
		}
	}
}

// RenderPattern returns a width x height calibration image suitable for
// projecting onto the arena or printing as a paper target.
func RenderPattern(width, height, cols, rows int, borderFactor float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	DrawChessboard(img, img.Bounds(), cols, rows, borderFactor, color.Black, color.White)
	return img
}

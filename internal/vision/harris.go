package vision

import (
	"image"
	"sort"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
)

// HarrisCandidates returns up to maxCorners Harris corners inside
// window, strongest first. Only local maxima scoring at least quality
// times the best response in the window are kept, and a candidate closer
// than minDistance to a stronger one is dropped.
func HarrisCandidates(g *image.Gray, window image.Rectangle, maxCorners int, quality, minDistance, k float64) []geometry.Point {
	// Two pixels of border for the Sobel kernel and the 3x3 block sum.
	win := window.Intersect(g.Bounds().Inset(2))
	if win.Empty() || maxCorners <= 0 {
		return nil
	}

	// Gradients over the window grown by one pixel.
	grad := win.Inset(-1)
	gw, gh := grad.Dx(), grad.Dy()
	ixx := make([]float64, gw*gh)
	iyy := make([]float64, gw*gh)
	ixy := make([]float64, gw*gh)
	p := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	for y := grad.Min.Y; y < grad.Max.Y; y++ {
		for x := grad.Min.X; x < grad.Max.X; x++ {
			dx := (p(x+1, y-1) + 2*p(x+1, y) + p(x+1, y+1)) - (p(x-1, y-1) + 2*p(x-1, y) + p(x-1, y+1))
			dy := (p(x-1, y+1) + 2*p(x, y+1) + p(x+1, y+1)) - (p(x-1, y-1) + 2*p(x, y-1) + p(x+1, y-1))
			i := (y-grad.Min.Y)*gw + (x - grad.Min.X)
			ixx[i], iyy[i], ixy[i] = dx*dx, dy*dy, dx*dy
		}
	}

	ww, wh := win.Dx(), win.Dy()
	resp := make([]float64, ww*wh)
	best := 0.0
	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			var sxx, syy, sxy float64
			for by := 0; by < 3; by++ {
				for bx := 0; bx < 3; bx++ {
					i := (y+by)*gw + (x + bx)
					sxx += ixx[i]
					syy += iyy[i]
					sxy += ixy[i]
				}
			}
			tr := sxx + syy
			r := sxx*syy - sxy*sxy - k*tr*tr
			resp[y*ww+x] = r
			if r > best {
				best = r
			}
		}
	}
	if best <= 0 {
		return nil
	}

	thr := quality * best
	var cands []candidate
	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			r := resp[y*ww+x]
			if r < thr || !isLocalMax(resp, ww, wh, x, y) {
				continue
			}
			cands = append(cands, candidate{x + win.Min.X, y + win.Min.Y, r})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].r > cands[j].r })

	minSq := minDistance * minDistance
	out := make([]geometry.Point, 0, maxCorners)
	for _, c := range cands {
		if len(out) == maxCorners {
			break
		}
		p := geometry.Point{X: float64(c.x), Y: float64(c.y)}
		crowded := false
		for _, q := range out {
			dx, dy := p.X-q.X, p.Y-q.Y
			if dx*dx+dy*dy < minSq {
				crowded = true
				break
			}
		}
		if !crowded {
			out = append(out, p)
		}
	}
	return out
}

func isLocalMax(resp []float64, w, h, x, y int) bool {
	r := resp[y*w+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if resp[ny*w+nx] > r {
				return false
			}
		}
	}
	return true
}

package vision

import (
	"image"
	"math"
	"sort"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
)

// ringRadius is the sampling radius of the X-corner detector. Squares
// must be larger than this to be found.
const ringRadius = 5

// ring holds 16 samples on a circle of radius 5, in angular order, so
// that ring[n] and ring[n+8] are diametrically opposite.
var ring = [16][2]int{
	{0, 5}, {2, 5}, {3, 3}, {5, 2},
	{5, 0}, {5, -2}, {3, -3}, {2, -5},
	{0, -5}, {-2, -5}, {-3, -3}, {-5, -2},
	{-5, 0}, {-5, 2}, {-3, 3}, {-2, 5},
}

const (
	// Fraction of the strongest response a pixel needs to be a candidate.
	responseFraction = 0.3
	// Responses below this are noise regardless of the image maximum.
	minResponse = 200
	// Neighbors in the grid are at most this factor times the nearest
	// neighbor distance apart; diagonals (x1.41) are excluded.
	neighborFactor = 1.3
	// A predicted grid point must land within this fraction of the
	// grid spacing of a detected corner.
	snapFraction = 0.35
)

// xCornerResponse scores every pixel for the saddle shape found where
// four checkerboard squares meet: opposite ring samples agree while
// samples a quarter turn apart disagree.
func xCornerResponse(g *image.Gray) []float64 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	resp := make([]float64, w*h)
	var offs [16]int
	for i, o := range ring {
		offs[i] = o[1]*g.Stride + o[0]
	}

	pix := g.Pix
	for y := ringRadius; y < h-ringRadius; y++ {
		for x := ringRadius; x < w-ringRadius; x++ {
			c := y*g.Stride + x
			var s [16]int
			sum := 0
			for i, off := range offs {
				s[i] = int(pix[c+off])
				sum += s[i]
			}

			sr := 0
			for n := 0; n < 4; n++ {
				sr += absInt(s[n] + s[n+8] - s[n+4] - s[n+12])
			}
			dr := 0
			for n := 0; n < 8; n++ {
				dr += absInt(s[n] - s[n+8])
			}
			local := float64(int(pix[c])+int(pix[c-1])+int(pix[c+1])+int(pix[c-g.Stride])+int(pix[c+g.Stride])) / 5
			mr := math.Abs(float64(sum)/16 - local)

			resp[y*w+x] = float64(sr-dr) - 16*mr
		}
	}
	return resp
}

type candidate struct {
	x, y int
	r    float64
}

// detectXCorners returns sub-pixel X-corner locations.
func detectXCorners(g *image.Gray) []geometry.Point {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	resp := xCornerResponse(g)

	peak := 0.0
	for _, r := range resp {
		peak = math.Max(peak, r)
	}
	if peak < minResponse {
		return nil
	}
	thr := math.Max(minResponse, peak*responseFraction)

	var cands []candidate
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if r := resp[y*w+x]; r > thr {
				cands = append(cands, candidate{x, y, r})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].r > cands[j].r })

	var kept []candidate
	const suppress = ringRadius * ringRadius
	for _, c := range cands {
		ok := true
		for _, k := range kept {
			dx, dy := c.x-k.x, c.y-k.y
			if dx*dx+dy*dy < suppress {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}

	pts := make([]geometry.Point, 0, len(kept))
	for _, k := range kept {
		pts = append(pts, refineCentroid(resp, w, h, k, thr/2))
	}
	return pts
}

// refineCentroid takes the response-weighted centroid of the 5x5
// neighborhood around a peak.
func refineCentroid(resp []float64, w, h int, c candidate, floor float64) geometry.Point {
	var sx, sy, sw float64
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			x, y := c.x+dx, c.y+dy
			if x < 0 || y < 0 || x >= w || y >= h {
				continue
			}
			r := resp[y*w+x] - floor
			if r <= 0 {
				continue
			}
			sx += r * float64(x)
			sy += r * float64(y)
			sw += r
		}
	}
	if sw == 0 {
		return geometry.Point{X: float64(c.x), Y: float64(c.y)}
	}
	return geometry.Point{X: sx / sw, Y: sy / sw}
}

// FindChessboard locates a checkerboard with cols x rows inner corners.
// Corners are returned row-major with cols points per row, the longer
// board axis running along a row. When several boards are visible the
// one covering the largest area is returned.
func FindChessboard(g *image.Gray, cols, rows int) ([]geometry.Point, bool) {
	boards := findBoards(detectXCorners(g), cols, rows)
	if len(boards) == 0 {
		return nil, false
	}
	return boards[0], true
}

// FindChessboards finds up to maxBoards boards. After each detection the
// board's inner area is blanked in g, so g is modified.
func FindChessboards(g *image.Gray, cols, rows, maxBoards int) [][]geometry.Point {
	var boards [][]geometry.Point
	for len(boards) < maxBoards {
		corners, ok := FindChessboard(g, cols, rows)
		if !ok {
			break
		}
		boards = append(boards, corners)
		quad := BoardQuad(corners, cols, rows)
		rect := geometry.MinAreaRect(quad[:])
		pts := rect.Points()
		FillConvexPoly(g, pts[:], 0)
	}
	return boards
}

// BoardQuad returns the four outermost inner corners of a detected
// board in top-left, top-right, bottom-right, bottom-left order.
func BoardQuad(corners []geometry.Point, cols, rows int) [4]geometry.Point {
	n := cols * rows
	return geometry.SortCorners([4]geometry.Point{
		corners[0], corners[cols-1], corners[n-1], corners[n-cols],
	})
}

func findBoards(pts []geometry.Point, cols, rows int) [][]geometry.Point {
	want := cols * rows
	if len(pts) < want {
		return nil
	}

	adj := neighborGraph(pts)
	var boards [][]geometry.Point
	for _, comp := range components(adj) {
		if len(comp) < want {
			continue
		}
		comp, adj := prune(comp, adj)
		if len(comp) != want {
			continue
		}
		if grid, ok := orderGrid(pts, adj, comp, cols, rows); ok {
			boards = append(boards, grid)
		}
	}

	sort.SliceStable(boards, func(i, j int) bool {
		return quadArea(BoardQuad(boards[i], cols, rows)) > quadArea(BoardQuad(boards[j], cols, rows))
	})
	return boards
}

// neighborGraph links points lying within neighborFactor of each
// other's nearest-neighbor distance.
func neighborGraph(pts []geometry.Point) [][]int {
	nn := make([]float64, len(pts))
	for i := range pts {
		nn[i] = math.Inf(1)
		for j := range pts {
			if i != j {
				nn[i] = math.Min(nn[i], pts[i].Dist(pts[j]))
			}
		}
	}

	adj := make([][]int, len(pts))
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			d := pts[i].Dist(pts[j])
			if d < neighborFactor*nn[i] && d < neighborFactor*nn[j] {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}
	return adj
}

// prune repeatedly drops nodes with fewer than two neighbors; every
// node of a grid has at least two, stray detections usually one.
func prune(comp []int, adj [][]int) ([]int, [][]int) {
	active := make(map[int]bool, len(comp))
	for _, n := range comp {
		active[n] = true
	}
	for changed := true; changed; {
		changed = false
		for n := range active {
			deg := 0
			for _, m := range adj[n] {
				if active[m] {
					deg++
				}
			}
			if deg < 2 {
				delete(active, n)
				changed = true
			}
		}
	}

	sub := make([][]int, len(adj))
	kept := make([]int, 0, len(active))
	for _, n := range comp {
		if !active[n] {
			continue
		}
		kept = append(kept, n)
		for _, m := range adj[n] {
			if active[m] {
				sub[n] = append(sub[n], m)
			}
		}
	}
	return kept, sub
}

func components(adj [][]int) [][]int {
	seen := make([]bool, len(adj))
	var comps [][]int
	for start := range adj {
		if seen[start] {
			continue
		}
		seen[start] = true
		queue := []int{start}
		var comp []int
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			comp = append(comp, n)
			for _, m := range adj[n] {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
		}
		comps = append(comps, comp)
	}
	return comps
}

// orderGrid arranges a connected component into row-major order. The
// four grid corners are the only nodes with two neighbors; a homography
// through them predicts every other corner.
func orderGrid(pts []geometry.Point, adj [][]int, comp []int, cols, rows int) ([]geometry.Point, bool) {
	var ends []geometry.Point
	for _, n := range comp {
		if len(adj[n]) == 2 {
			ends = append(ends, pts[n])
		}
	}
	if len(ends) != 4 {
		return nil, false
	}

	q := geometry.SortCorners([4]geometry.Point{ends[0], ends[1], ends[2], ends[3]})
	tl, tr, br, bl := q[0], q[1], q[2], q[3]
	horizontal := tl.Dist(tr) + bl.Dist(br)
	vertical := tl.Dist(bl) + tr.Dist(br)

	c, r := float64(cols-1), float64(rows-1)
	ideal := [4]geometry.Point{{X: 0, Y: 0}, {X: c, Y: 0}, {X: c, Y: r}, {X: 0, Y: r}}
	if vertical > horizontal {
		// Portrait board: rows run down the image.
		ideal = [4]geometry.Point{{X: 0, Y: 0}, {X: 0, Y: r}, {X: c, Y: r}, {X: c, Y: 0}}
	}

	h, err := geometry.PerspectiveTransform(ideal, q)
	if err != nil {
		return nil, false
	}

	spacing := medianSpacing(pts, adj, comp)
	limit := snapFraction * spacing
	used := make(map[int]bool, len(comp))
	grid := make([]geometry.Point, 0, cols*rows)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			want := h.Apply(geometry.Point{X: float64(i), Y: float64(j)})
			best, bestDist := -1, math.Inf(1)
			for _, n := range comp {
				if d := pts[n].Dist(want); d < bestDist {
					best, bestDist = n, d
				}
			}
			if best < 0 || bestDist > limit || used[best] {
				return nil, false
			}
			used[best] = true
			grid = append(grid, pts[best])
		}
	}
	return grid, true
}

func medianSpacing(pts []geometry.Point, adj [][]int, comp []int) float64 {
	var ds []float64
	for _, n := range comp {
		for _, m := range adj[n] {
			ds = append(ds, pts[n].Dist(pts[m]))
		}
	}
	if len(ds) == 0 {
		return 0
	}
	sort.Float64s(ds)
	return ds[len(ds)/2]
}

func quadArea(q [4]geometry.Point) float64 {
	a := 0.0
	for i := range q {
		a += q[i].Cross(q[(i+1)%4])
	}
	return math.Abs(a) / 2
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Package calibration finds the projection area in the camera feed.
//
// The Engine is fed one frame at a time from the acquisition goroutine.
// It locates a projected 9x6 checkerboard, estimates the full projected
// outline, refines the outline corners and derives a perspective
// transform to an axis-aligned rectangle. It can then measure the
// projector-to-camera delay and look for a smaller paper board to learn
// real-world target dimensions.
package calibration

import (
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/vision"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const module = "Calibration"

// Harris parameters for the outline corner search.
const (
	cornerCandidates  = 6
	cornerQuality     = 0.10
	cornerMinDistance = 2
	harrisK           = 0.04
)

// ArenaController changes what the projector shows. An empty resource
// clears the arena.
type ArenaController interface {
	SetArenaBackground(resource string)
}

// Result is produced once per successful run.
type Result struct {
	Bounds     types.Bounds
	Paper      *types.Dimension
	FrameDelay types.FrameDelay
	// DelayProbed is set when the latency stage ran. A probed result with
	// FrameDelayUnmeasured saw no change inside the window.
	DelayProbed bool
}

// Engine is the calibration step machine.
type Engine struct {
	cfg   Config
	arena ArenaController

	mu           sync.Mutex
	state        State
	measureDelay bool
	calibrated   bool
	transform    geometry.Homography
	bounds       types.Bounds
	paper        *types.Dimension
	delay        types.FrameDelay
	delayProbed  bool
	probe        delayProbe
	attempts     int

	callback atomic.Pointer[func(Result)]
}

type delayProbe struct {
	started   bool
	reference float64
	since     int64
}

// New creates an engine in StateAwaitingPrimary.
func New(cfg Config, arena ArenaController) *Engine {
	e := &Engine{cfg: cfg, arena: arena}
	e.Reset()
	return e
}

// Reset discards all calibration state, including a pending callback.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.callback.Store(nil)
}

func (e *Engine) resetLocked() {
	e.state = StateAwaitingPrimary
	e.calibrated = false
	e.transform = geometry.Homography{}
	e.bounds = types.Bounds{}
	e.paper = nil
	e.delay = types.FrameDelayUnmeasured
	e.delayProbed = false
	e.probe = delayProbe{}
	e.attempts = 0
}

// Start resets the engine and arms cb to receive the result. When
// measureDelay is set the latency stage runs after the primary stage.
func (e *Engine) Start(measureDelay bool, cb func(Result)) {
	e.Reset()
	e.mu.Lock()
	e.measureDelay = measureDelay
	e.mu.Unlock()
	e.SetCallback(cb)
}

// SetCallback arms the one-shot completion callback.
func (e *Engine) SetCallback(cb func(Result)) {
	if cb == nil {
		e.callback.Store(nil)
		return
	}
	e.callback.Store(&cb)
}

// State returns the current step.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsCalibrated reports whether the primary stage produced a transform.
func (e *Engine) IsCalibrated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calibrated
}

// Bounds returns the projection bounds found by the primary stage.
func (e *Engine) Bounds() (types.Bounds, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds, e.calibrated
}

// Transform returns the camera-to-rectified homography.
func (e *Engine) Transform() (geometry.Homography, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transform, e.calibrated
}

// PaperDimensions returns the paper target size, if one was seen.
func (e *Engine) PaperDimensions() *types.Dimension {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paper == nil {
		return nil
	}
	d := *e.paper
	return &d
}

// FrameDelay returns the measured delay or FrameDelayUnmeasured.
func (e *Engine) FrameDelay() types.FrameDelay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay
}

// DelayProbed reports whether the latency stage ran to completion.
func (e *Engine) DelayProbed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delayProbed
}

// ProcessFrame advances the step machine by one frame. The completion
// callback runs on the caller's goroutine, at most once per Start.
func (e *Engine) ProcessFrame(f *types.Frame) {
	if f == nil || f.Image == nil {
		return
	}

	e.mu.Lock()
	done := e.advance(f)
	var res Result
	if done {
		res = e.resultLocked()
	}
	e.mu.Unlock()

	if done {
		if cb := e.callback.Swap(nil); cb != nil {
			logger.Info(module, "Calibration complete: bounds=%s delay=%d", res.Bounds, res.FrameDelay)
			(*cb)(res)
		}
	}
}

func (e *Engine) advance(f *types.Frame) bool {
	switch e.state {
	case StateAwaitingPrimary:
		if e.primaryStage(f) {
			if e.measureDelay {
				e.state = StateAwaitingLatency
			} else {
				e.enterSecondary()
			}
			logger.Debug(module, "Primary pattern found, bounds %s, next %s", e.bounds, e.state)
		}
	case StateAwaitingLatency:
		if e.latencyStage(f) {
			e.delayProbed = true
			e.enterSecondary()
		}
	case StateAwaitingSecondary:
		if e.cfg.SecondaryAttempts <= 0 {
			e.state = StateDone
			break
		}
		e.secondaryStage(f)
		if e.attempts >= e.cfg.SecondaryAttempts {
			e.state = StateDone
		}
	}
	return e.state == StateDone
}

// enterSecondary moves to the secondary stage, or straight to done when no
// secondary attempts are configured.
func (e *Engine) enterSecondary() {
	if e.cfg.SecondaryAttempts <= 0 {
		e.state = StateDone
		return
	}
	e.state = StateAwaitingSecondary
}

func (e *Engine) resultLocked() Result {
	res := Result{Bounds: e.bounds, FrameDelay: e.delay, DelayProbed: e.delayProbed}
	if e.paper != nil {
		d := *e.paper
		res.Paper = &d
	}
	return res
}

// primaryStage looks for the projected board and derives the transform.
// Nothing is kept unless the whole stage succeeds.
func (e *Engine) primaryStage(f *types.Frame) bool {
	w, h := f.Width(), f.Height()
	gray := vision.Normalize(f.Image)
	boards := vision.FindChessboards(gray, e.cfg.PatternCols, e.cfg.PatternRows, 2)
	if len(boards) == 0 {
		return false
	}

	boards, paper := e.extractPaper(boards, w, h, nil, true)
	if len(boards) == 0 {
		return false
	}

	quad := vision.BoardQuad(boards[0], e.cfg.PatternCols, e.cfg.PatternRows)
	estimated, boundsRect := e.estimatePatternRect(quad)

	// Outline corners are refined on plain luma, not the equalized image.
	corners, ok := e.findCorners(vision.Gray(f.Image), estimated)
	if !ok {
		logger.Debug(module, "Corner search failed")
		return false
	}
	src := geometry.SortCorners(corners)

	br := boundsRect.BoundingRect()
	x0, y0 := float64(br.Min.X), float64(br.Min.Y)
	x1, y1 := float64(br.Max.X), float64(br.Max.Y)
	dst := [4]geometry.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}

	transform, err := geometry.PerspectiveTransform(src, dst)
	if err != nil {
		logger.Debug(module, "Perspective transform failed: %v", err)
		return false
	}

	bounds := types.Bounds{
		MinX:   br.Min.X,
		MinY:   br.Min.Y,
		Width:  geometry.EvenCeil(br.Dx()),
		Height: geometry.EvenCeil(br.Dy()),
	}
	if bounds.MinX < 0 || bounds.MinY < 0 || bounds.MinX+bounds.Width > w || bounds.MinY+bounds.Height > h {
		logger.Debug(module, "Bounds %s outside %dx%d frame", bounds, w, h)
		return false
	}

	e.transform = transform
	e.bounds = bounds
	e.paper = paper
	e.calibrated = true
	return true
}

// estimatePatternRect grows the inner-corner quad to the full projected
// outline. The quad is rotated level, extended by one square plus the
// border on each side, and rotated back. The returned RotatedRect is
// the level outline used as transform target.
func (e *Engine) estimatePatternRect(quad [4]geometry.Point) ([4]geometry.Point, geometry.RotatedRect) {
	angle := geometry.MinAreaRect(quad[:]).Angle
	center := geometry.Centroid(quad[:])

	var level [4]geometry.Point
	for i, p := range quad {
		level[i] = p.Rotate(center, -angle)
	}
	level = geometry.SortCorners(level)

	estimated := e.estimateFullPatternSize(level)
	boundsRect := geometry.MinAreaRect(estimated[:])

	back := geometry.Centroid(estimated[:])
	var rotated [4]geometry.Point
	for i, p := range estimated {
		rotated[i] = p.Rotate(back, angle)
	}
	return rotated, boundsRect
}

func (e *Engine) estimateFullPatternSize(r [4]geometry.Point) [4]geometry.Point {
	tl, tr, br, bl := r[0], r[1], r[2], r[3]
	grow := 1 + e.cfg.BorderFactor
	cols, rows := float64(e.cfg.PatternCols-1), float64(e.cfg.PatternRows-1)

	topW := grow * tl.Dist(tr) / cols
	bottomW := grow * bl.Dist(br) / cols
	leftH := grow * tl.Dist(bl) / rows
	rightH := grow * tr.Dist(br) / rows

	return [4]geometry.Point{
		{X: tl.X - topW, Y: tl.Y - leftH},
		{X: tr.X + topW, Y: tr.Y - rightH},
		{X: br.X + bottomW, Y: br.Y + rightH},
		{X: bl.X - bottomW, Y: bl.Y + leftH},
	}
}

// findCorners refines each estimated outline corner with a Harris
// search, keeping the candidate nearest the frame edges. Candidates are
// kept apart so the board's outer squares cannot crowd out the outline.
func (e *Engine) findCorners(gray *image.Gray, estimated [4]geometry.Point) ([4]geometry.Point, bool) {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	region := (w * h) / e.cfg.CornerSearchDivisor

	var out [4]geometry.Point
	for i, pt := range estimated {
		cx, cy := int(math.Round(pt.X)), int(math.Round(pt.Y))
		window := image.Rect(cx-region, cy-region, cx+region+1, cy+region+1)
		cands := vision.HarrisCandidates(gray, window, cornerCandidates, cornerQuality, cornerMinDistance, harrisK)
		if len(cands) == 0 {
			return out, false
		}

		best, bestDist := cands[0], math.Inf(1)
		for _, c := range cands {
			d := math.Min(float64(w)-c.X, c.X) + math.Min(float64(h)-c.Y, c.Y)
			if d < bestDist {
				best, bestDist = c, d
			}
		}
		out[i] = best
	}
	return out, true
}

// latencyStage measures how long the projector change takes to reach
// the camera. It reports true once a delay (or the sentinel) is known.
func (e *Engine) latencyStage(f *types.Frame) bool {
	und := e.undistortLocked(f)
	x, y := e.delayPixel()
	v := vision.ValueAt(und.Image, x, y)

	if !e.probe.started {
		e.probe = delayProbe{started: true, reference: v, since: f.Timestamp}
		logger.Debug(module, "Frame delay reference %.0f at (%d,%d)", v, x, y)
		e.arena.SetArenaBackground("")
		return false
	}

	elapsed := f.Timestamp - e.probe.since
	if v < e.cfg.DelayThreshold*e.probe.reference {
		e.delay = types.FrameDelay(elapsed)
		logger.Info(module, "Measured frame delay %dms", elapsed)
		return true
	}
	if elapsed > e.cfg.DelayWindow.Milliseconds() {
		e.delay = types.FrameDelayUnmeasured
		logger.Info(module, "No frame delay observed within %s", e.cfg.DelayWindow)
		return true
	}
	return false
}

// delayPixel is the center of the second square of the top row of the
// rectified pattern, which is a light square.
func (e *Engine) delayPixel() (int, int) {
	squareW := float64(e.bounds.Width) / float64(e.cfg.PatternCols+1)
	squareH := float64(e.bounds.Height) / float64(e.cfg.PatternRows+1)
	return int(float64(e.bounds.MinX) + squareW*1.5), int(float64(e.bounds.MinY) + squareH*0.5)
}

// secondaryStage spends one attempt looking for the paper board in the
// rectified frame.
func (e *Engine) secondaryStage(f *types.Frame) {
	e.attempts++
	e.arena.SetArenaBackground("")

	und := e.undistortLocked(f)
	gray := vision.Normalize(und.Image)
	boards := vision.FindChessboards(gray, e.cfg.PatternCols, e.cfg.PatternRows, 2)
	if len(boards) == 0 {
		return
	}
	if _, paper := e.extractPaper(boards, f.Width(), f.Height(), e.paper, true); paper != nil {
		e.paper = paper
	}
}

// extractPaper looks for the first board small enough to be a paper
// target. The board is removed from the returned list and its size is
// returned, averaged with prev when average is set.
func (e *Engine) extractPaper(boards [][]geometry.Point, frameW, frameH int, prev *types.Dimension, average bool) ([][]geometry.Point, *types.Dimension) {
	for i, b := range boards {
		quad := vision.BoardQuad(b, e.cfg.PatternCols, e.cfg.PatternRows)
		rect := geometry.MinAreaRect(quad[:])
		dim, ok := e.paperFootprint(rect, frameW, frameH)
		if !ok {
			continue
		}

		if prev != nil && average {
			dim = types.Dimension{Width: (prev.Width + dim.Width) / 2, Height: (prev.Height + dim.Height) / 2}
			logger.Debug(module, "Averaged paper dimensions %.1fx%.1f", dim.Width, dim.Height)
		} else {
			logger.Debug(module, "Found paper dimensions %.1fx%.1f", dim.Width, dim.Height)
		}

		rest := append(append([][]geometry.Point(nil), boards[:i]...), boards[i+1:]...)
		return rest, &dim
	}
	return boards, prev
}

// paperFootprint estimates the paper size from the inner-corner
// rectangle and rejects anything a quarter of the frame or larger.
func (e *Engine) paperFootprint(rect geometry.RotatedRect, frameW, frameH int) (types.Dimension, bool) {
	w, h := rect.Width, rect.Height
	if h > w {
		w, h = h, w
	}

	cols, rows := float64(e.cfg.PatternCols), float64(e.cfg.PatternRows)
	w = w * ((cols + 1) / (cols - 1)) * e.cfg.PaperMarginWidth * (1 + e.cfg.BorderFactor/cols)
	h = h * ((rows + 1) / (rows - 1)) * e.cfg.PaperMarginHeight * (1 + e.cfg.BorderFactor/rows)

	limit := e.cfg.PaperMaxFraction
	if w > limit*float64(frameW) || h > limit*float64(frameH) {
		return types.Dimension{}, false
	}
	return types.Dimension{Width: w, Height: h}, true
}

// UndistortFrame rectifies f with the calibration transform. Before the
// primary stage succeeds it logs a warning and returns f unchanged.
func (e *Engine) UndistortFrame(f *types.Frame) *types.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.calibrated {
		logger.Warn(module, "UndistortFrame called before calibration completed")
		return f
	}
	return e.undistortLocked(f)
}

func (e *Engine) undistortLocked(f *types.Frame) *types.Frame {
	img, err := vision.WarpPerspective(f.Image, e.transform, f.Width(), f.Height())
	if err != nil {
		logger.Warn(module, "Undistort failed: %v", err)
		return f
	}
	return f.WithImage(img)
}

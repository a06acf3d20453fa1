package calibration

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
	"github.com/TheWiseOptimist/ShootOFF/internal/vision"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

type arenaRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (a *arenaRecorder) SetArenaBackground(resource string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, resource)
}

func (a *arenaRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// scene renders a dark 640x480 frame with a projected board filling each
// rectangle.
func scene(rects ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{30, 30, 30, 255}), image.Point{}, draw.Src)
	cfg := DefaultConfig()
	for _, r := range rects {
		vision.DrawChessboard(img, r, cfg.PatternCols, cfg.PatternRows, cfg.BorderFactor, color.Black, color.White)
	}
	return img
}

func darkScene() *image.RGBA {
	return scene()
}

func frameAt(img *image.RGBA, ts int64) *types.Frame {
	return &types.Frame{Image: img, Timestamp: ts}
}

func TestEngineConvergesOnSyntheticPattern(t *testing.T) {
	rect := image.Rect(100, 80, 540, 400)
	img := scene(rect)
	arena := &arenaRecorder{}
	e := New(DefaultConfig(), arena)

	var results []Result
	e.Start(false, func(r Result) { results = append(results, r) })

	for i := 0; i < 10 && e.State() != StateDone; i++ {
		e.ProcessFrame(frameAt(img, int64(i*100)))
	}
	require.Equal(t, StateDone, e.State())
	require.Len(t, results, 1)

	b := results[0].Bounds
	assert.Equal(t, 0, b.Width%2, "width must be even")
	assert.Equal(t, 0, b.Height%2, "height must be even")

	want := float64(rect.Dx() * rect.Dy())
	assert.InEpsilon(t, want, float64(b.Area()), 0.03)

	corners, ok := vision.FindChessboard(vision.Normalize(img), 9, 6)
	require.True(t, ok)
	for _, p := range vision.BoardQuad(corners, 9, 6) {
		assert.True(t, b.Contains(p.X, p.Y), "bounds %s must contain %v", b, p)
	}

	assert.Nil(t, results[0].Paper, "projected pattern is too large to be paper")
	assert.Equal(t, types.FrameDelayUnmeasured, results[0].FrameDelay)
	assert.False(t, results[0].DelayProbed)
	assert.Equal(t, DefaultConfig().SecondaryAttempts, arena.count())

	// The callback is consumed.
	e.ProcessFrame(frameAt(img, 2000))
	assert.Len(t, results, 1)
}

func TestEngineTransformRectifiesOutline(t *testing.T) {
	rect := image.Rect(100, 80, 540, 400)
	e := New(DefaultConfig(), &arenaRecorder{})
	e.Start(false, nil)
	e.ProcessFrame(frameAt(scene(rect), 0))
	require.True(t, e.IsCalibrated())

	h, ok := e.Transform()
	require.True(t, ok)
	b, _ := e.Bounds()
	p := h.Apply(geometry.Point{X: float64(rect.Min.X), Y: float64(rect.Min.Y)})
	assert.InDelta(t, float64(b.MinX), p.X, 2)
	assert.InDelta(t, float64(b.MinY), p.Y, 2)
}

func TestFindCornersSnapsToOutline(t *testing.T) {
	rect := image.Rect(100, 80, 540, 400)
	img := scene(rect)
	cfg := DefaultConfig()
	e := New(cfg, &arenaRecorder{})

	inner, ok := vision.FindChessboard(vision.Normalize(img), cfg.PatternCols, cfg.PatternRows)
	require.True(t, ok)
	estimated, _ := e.estimatePatternRect(vision.BoardQuad(inner, cfg.PatternCols, cfg.PatternRows))

	refined, ok := e.findCorners(vision.Gray(img), estimated)
	require.True(t, ok)
	refined = geometry.SortCorners(refined)

	want := [4]geometry.Point{{X: 100, Y: 80}, {X: 539, Y: 80}, {X: 539, Y: 399}, {X: 100, Y: 399}}
	for i := range want {
		assert.InDelta(t, want[i].X, refined[i].X, 1, "corner %d: %v", i, refined[i])
		assert.InDelta(t, want[i].Y, refined[i].Y, 1, "corner %d: %v", i, refined[i])
	}
}

func TestEngineSkipsSecondaryWithoutAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecondaryAttempts = 0
	arena := &arenaRecorder{}
	e := New(cfg, arena)

	calls := 0
	e.Start(false, func(Result) { calls++ })
	e.ProcessFrame(frameAt(scene(image.Rect(100, 80, 540, 400)), 0))

	assert.Equal(t, StateDone, e.State())
	assert.Equal(t, 1, calls)
	assert.Zero(t, arena.count(), "arena untouched without secondary attempts")
}

func TestEngineMeasuresFrameDelay(t *testing.T) {
	pattern := scene(image.Rect(100, 80, 540, 400))
	dark := darkScene()
	arena := &arenaRecorder{}
	e := New(DefaultConfig(), arena)

	var res *Result
	e.Start(true, func(r Result) { res = &r })

	e.ProcessFrame(frameAt(pattern, 0))
	require.Equal(t, StateAwaitingLatency, e.State())

	e.ProcessFrame(frameAt(pattern, 100))
	assert.Equal(t, 1, arena.count(), "arena cleared when the probe starts")
	e.ProcessFrame(frameAt(pattern, 140))
	assert.Equal(t, StateAwaitingLatency, e.State())

	e.ProcessFrame(frameAt(dark, 180))
	assert.Equal(t, StateAwaitingSecondary, e.State())
	assert.Equal(t, types.FrameDelay(80), e.FrameDelay())

	e.ProcessFrame(frameAt(dark, 200))
	e.ProcessFrame(frameAt(dark, 220))
	require.NotNil(t, res)
	assert.Equal(t, types.FrameDelay(80), res.FrameDelay)
	assert.True(t, res.DelayProbed)
}

func TestEngineFrameDelayTimesOut(t *testing.T) {
	pattern := scene(image.Rect(100, 80, 540, 400))
	e := New(DefaultConfig(), &arenaRecorder{})
	e.Start(true, nil)

	e.ProcessFrame(frameAt(pattern, 0))
	e.ProcessFrame(frameAt(pattern, 100))
	e.ProcessFrame(frameAt(pattern, 200))
	assert.Equal(t, StateAwaitingLatency, e.State())

	e.ProcessFrame(frameAt(pattern, 360))
	assert.Equal(t, StateAwaitingSecondary, e.State())
	assert.Equal(t, types.FrameDelayUnmeasured, e.FrameDelay())
	assert.NotEqual(t, types.FrameDelay(0), e.FrameDelay())
	assert.False(t, e.FrameDelay().Measured())
	assert.True(t, e.DelayProbed(), "timeout still counts as a completed probe")
}

func TestEngineStaysInPrimaryWhenOutlineLeavesFrame(t *testing.T) {
	e := New(DefaultConfig(), &arenaRecorder{})
	called := false
	e.Start(false, func(Result) { called = true })

	img := scene(image.Rect(-30, 80, 410, 400))
	for i := 0; i < 3; i++ {
		e.ProcessFrame(frameAt(img, int64(i*100)))
	}
	assert.Equal(t, StateAwaitingPrimary, e.State())
	assert.False(t, e.IsCalibrated())
	assert.False(t, called)
}

func TestEngineFindsPaperPattern(t *testing.T) {
	img := scene(image.Rect(10, 60, 420, 360), image.Rect(460, 150, 580, 234))
	e := New(DefaultConfig(), &arenaRecorder{})

	var res *Result
	e.Start(false, func(r Result) { res = &r })
	for i := 0; i < 5 && res == nil; i++ {
		e.ProcessFrame(frameAt(img, int64(i*100)))
	}
	require.NotNil(t, res)
	require.NotNil(t, res.Paper)
	assert.InEpsilon(t, 125.0, res.Paper.Width, 0.05)
	assert.InEpsilon(t, 88.6, res.Paper.Height, 0.05)
	assert.GreaterOrEqual(t, res.Paper.Width, res.Paper.Height)

	// The projected board, not the paper, defines the bounds.
	assert.InEpsilon(t, 410.0*300.0, float64(res.Bounds.Area()), 0.03)
}

func TestEngineRejectsOversizedPaper(t *testing.T) {
	// 184px wide board: its paper footprint is 30% of the frame width.
	img := scene(image.Rect(10, 60, 420, 360), image.Rect(440, 150, 624, 279))
	e := New(DefaultConfig(), &arenaRecorder{})

	var res *Result
	e.Start(false, func(r Result) { res = &r })
	for i := 0; i < 5 && res == nil; i++ {
		e.ProcessFrame(frameAt(img, int64(i*100)))
	}
	require.NotNil(t, res)
	assert.Nil(t, res.Paper)
	assert.Nil(t, e.PaperDimensions())
}

func TestPaperFootprintThreshold(t *testing.T) {
	e := New(DefaultConfig(), &arenaRecorder{})
	scale := (10.0 / 8.0) * 1.048 * (1 + 0.065476/9)

	// Footprint of 30% of a 640px frame.
	wide := geometry.RotatedRect{Width: 0.30 * 640 / scale, Height: 20}
	_, ok := e.paperFootprint(wide, 640, 480)
	assert.False(t, ok)

	narrow := geometry.RotatedRect{Width: 0.20 * 640 / scale, Height: 20}
	dim, ok := e.paperFootprint(narrow, 640, 480)
	require.True(t, ok)
	assert.InDelta(t, 128, dim.Width, 1e-6)

	// Sideways boards are flipped so width is the long side.
	sideways := geometry.RotatedRect{Width: 20, Height: 0.20 * 640 / scale}
	dim, ok = e.paperFootprint(sideways, 640, 480)
	require.True(t, ok)
	assert.InDelta(t, 128, dim.Width, 1e-6)
}

func TestUndistortBeforeCalibrationReturnsInput(t *testing.T) {
	e := New(DefaultConfig(), &arenaRecorder{})
	f := frameAt(darkScene(), 0)
	out := e.UndistortFrame(f)
	assert.Same(t, f, out)
	assert.Equal(t, StateAwaitingPrimary, e.State())
	assert.False(t, e.IsCalibrated())
}

func TestUndistortAfterCalibration(t *testing.T) {
	img := scene(image.Rect(100, 80, 540, 400))
	e := New(DefaultConfig(), &arenaRecorder{})
	e.Start(false, nil)
	e.ProcessFrame(frameAt(img, 0))
	require.True(t, e.IsCalibrated())

	f := frameAt(img, 5)
	out := e.UndistortFrame(f)
	assert.NotSame(t, f, out)
	assert.Equal(t, int64(5), out.Timestamp)
	assert.Equal(t, f.Width(), out.Width())
}

func TestResetClearsState(t *testing.T) {
	img := scene(image.Rect(100, 80, 540, 400))
	e := New(DefaultConfig(), &arenaRecorder{})
	e.Start(false, nil)
	e.ProcessFrame(frameAt(img, 0))
	require.True(t, e.IsCalibrated())

	e.Reset()
	assert.False(t, e.IsCalibrated())
	assert.Equal(t, StateAwaitingPrimary, e.State())
	assert.Equal(t, types.FrameDelayUnmeasured, e.FrameDelay())
	assert.False(t, e.DelayProbed())
	_, ok := e.Bounds()
	assert.False(t, ok)
}

func TestEstimateFullPatternSize(t *testing.T) {
	e := New(DefaultConfig(), &arenaRecorder{})
	// Inner corners of a level board with 10px squares.
	quad := [4]geometry.Point{{X: 100, Y: 100}, {X: 180, Y: 100}, {X: 180, Y: 150}, {X: 100, Y: 150}}
	est := e.estimateFullPatternSize(quad)
	grow := 10 * (1 + DefaultConfig().BorderFactor)
	assert.InDelta(t, 100-grow, est[0].X, 1e-9)
	assert.InDelta(t, 100-grow, est[0].Y, 1e-9)
	assert.InDelta(t, 180+grow, est[2].X, 1e-9)
	assert.InDelta(t, 150+grow, est[2].Y, 1e-9)
	assert.False(t, math.IsNaN(est[1].X))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-primary", StateAwaitingPrimary.String())
	assert.Equal(t, "done", StateDone.String())
}

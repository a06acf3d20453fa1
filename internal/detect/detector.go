// Package detect implements a laser shot detector for the camera pipeline.
//
// The detector keeps a slowly adapting luminance background and reports
// small, saturated blobs that appear against it. Whole-frame changes are
// treated as camera motion and excessive mean brightness as overexposure;
// both are reported through Warnings instead of producing shots.
package detect

import (
	"image"
	"math"
	"sync"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/vision"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const module = "Detect"

// Config holds the detection thresholds.
type Config struct {
	// Minimum HSV value of a shot pixel.
	BrightThreshold float64 `toml:"bright_threshold"`
	// Minimum luminance rise over the background for a shot pixel.
	DiffThreshold float64 `toml:"diff_threshold"`
	// Blob size limits in pixels.
	MinBlobArea int `toml:"min_blob_area"`
	MaxBlobArea int `toml:"max_blob_area"`
	// Fraction of changed pixels treated as camera motion.
	MotionFraction float64 `toml:"motion_fraction"`
	// Mean luminance above which the brightness warning is raised.
	BrightnessLimit float64 `toml:"brightness_limit"`
	// Weight of a new frame in the background average.
	BackgroundAlpha float64 `toml:"background_alpha"`
	// A blob within SuppressRadius pixels of a shot reported in the last
	// SuppressFrames frames is the same shot.
	SuppressRadius float64 `toml:"suppress_radius"`
	SuppressFrames int     `toml:"suppress_frames"`
}

// DefaultConfig returns thresholds suited to an indoor projector setup.
func DefaultConfig() Config {
	return Config{
		BrightThreshold: 230,
		DiffThreshold:   60,
		MinBlobArea:     2,
		MaxBlobArea:     400,
		MotionFraction:  0.2,
		BrightnessLimit: 220,
		BackgroundAlpha: 0.1,
		SuppressRadius:  12,
		SuppressFrames:  4,
	}
}

// Warnings receives overexposure and motion conditions.
type Warnings interface {
	ShowBrightnessWarning()
	ShowMotionWarning()
}

// Sectors reports which parts of the frame are enabled for detection.
type Sectors interface {
	IsSectorOn(row, col int) bool
	SectorGridSize() (rows, cols int)
}

type recentShot struct {
	x, y  float64
	frame uint64
}

type injectedShot struct {
	color  types.ShotColor
	x, y   float64
	scaled bool
}

// Detector implements camera.ShotDetector.
type Detector struct {
	cfg Config

	mu         sync.Mutex
	warnings   Warnings
	sectors    Sectors
	frameSize  image.Point
	background []float64
	bgSize     image.Point
	recent     []recentShot
	pending    []injectedShot
	frames     uint64
}

// New creates a detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Attach wires the warning sink and sector grid, normally the camera
// Manager that owns the detector.
func (d *Detector) Attach(w Warnings, s Sectors) {
	d.mu.Lock()
	d.warnings, d.sectors = w, s
	d.mu.Unlock()
}

func (d *Detector) SetFrameSize(size image.Point) {
	d.mu.Lock()
	d.frameSize = size
	d.mu.Unlock()
}

// AddShot queues a synthetic shot. With scaled set, x and y are fractions
// of the frame size seen by the next ProcessFrame.
func (d *Detector) AddShot(c types.ShotColor, x, y float64, scaled bool) {
	d.mu.Lock()
	d.pending = append(d.pending, injectedShot{color: c, x: x, y: y, scaled: scaled})
	d.mu.Unlock()
}

// Reset drops the background model and queued shots.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.background = nil
	d.recent = nil
	d.pending = nil
	d.mu.Unlock()
}

func (d *Detector) ProcessFrame(f *types.Frame, detecting bool) []types.Shot {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frames++
	shots := d.takeInjected(f)

	gray := vision.Gray(f.Image)
	size := gray.Bounds().Size()
	if d.background == nil || d.bgSize != size {
		d.resetBackground(gray)
		return shots
	}

	changed, mean := d.compare(gray)
	total := size.X * size.Y
	if float64(changed) > d.cfg.MotionFraction*float64(total) {
		logger.Debug(module, "Motion: %d of %d pixels changed", changed, total)
		if d.warnings != nil {
			d.warnings.ShowMotionWarning()
		}
		d.resetBackground(gray)
		return shots
	}
	if mean > d.cfg.BrightnessLimit && d.warnings != nil {
		d.warnings.ShowBrightnessWarning()
	}

	var mask []bool
	if detecting {
		var found []types.Shot
		found, mask = d.findShots(f, gray)
		shots = append(shots, found...)
	}
	d.updateBackground(gray, mask)
	return shots
}

func (d *Detector) takeInjected(f *types.Frame) []types.Shot {
	if len(d.pending) == 0 {
		return nil
	}
	w, h := float64(f.Width()), float64(f.Height())
	shots := make([]types.Shot, 0, len(d.pending))
	for _, p := range d.pending {
		x, y := p.x, p.y
		if p.scaled {
			x, y = x*w, y*h
		}
		s := types.NewShot(p.color, x, y, time.UnixMilli(f.Timestamp))
		s.Injected = true
		shots = append(shots, s)
	}
	d.pending = nil
	return shots
}

func (d *Detector) resetBackground(gray *image.Gray) {
	d.bgSize = gray.Bounds().Size()
	d.background = make([]float64, len(gray.Pix))
	for i, v := range gray.Pix {
		d.background[i] = float64(v)
	}
	d.recent = nil
}

// compare returns the number of pixels that moved away from the background
// by more than DiffThreshold and the mean luminance.
func (d *Detector) compare(gray *image.Gray) (int, float64) {
	changed := 0
	sum := 0.0
	for i, v := range gray.Pix {
		fv := float64(v)
		sum += fv
		if math.Abs(fv-d.background[i]) > d.cfg.DiffThreshold {
			changed++
		}
	}
	return changed, sum / float64(len(gray.Pix))
}

func (d *Detector) updateBackground(gray *image.Gray, skip []bool) {
	a := d.cfg.BackgroundAlpha
	for i, v := range gray.Pix {
		if skip != nil && skip[i] {
			continue
		}
		d.background[i] = d.background[i]*(1-a) + float64(v)*a
	}
}

// findShots labels bright, risen pixels into 4-connected blobs and returns
// one shot per new blob of acceptable size, plus the candidate mask.
func (d *Detector) findShots(f *types.Frame, gray *image.Gray) ([]types.Shot, []bool) {
	w, h := d.bgSize.X, d.bgSize.Y
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if float64(gray.Pix[i])-d.background[i] < d.cfg.DiffThreshold {
				continue
			}
			if vision.ValueAt(f.Image, f.Image.Rect.Min.X+x, f.Image.Rect.Min.Y+y) < d.cfg.BrightThreshold {
				continue
			}
			mask[i] = true
		}
	}

	d.expireRecent()

	var shots []types.Shot
	seen := make([]bool, w*h)
	stack := make([]int, 0, 64)
	for start, on := range mask {
		if !on || seen[start] {
			continue
		}
		stack = append(stack[:0], start)
		seen[start] = true
		var area int
		var sx, sy, sr, sg, sb float64
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			area++
			sx += float64(x)
			sy += float64(y)
			c := f.Image.RGBAAt(f.Image.Rect.Min.X+x, f.Image.Rect.Min.Y+y)
			sr += float64(c.R)
			sg += float64(c.G)
			sb += float64(c.B)
			for _, n := range [4]int{i - 1, i + 1, i - w, i + w} {
				if n < 0 || n >= len(mask) || seen[n] || !mask[n] {
					continue
				}
				if (n == i-1 && x == 0) || (n == i+1 && x == w-1) {
					continue
				}
				seen[n] = true
				stack = append(stack, n)
			}
		}
		if area < d.cfg.MinBlobArea || area > d.cfg.MaxBlobArea {
			continue
		}
		cx, cy := sx/float64(area), sy/float64(area)
		if !d.sectorOn(cx, cy, w, h) || d.isRecent(cx, cy) {
			continue
		}
		s := types.NewShot(classify(sr, sg, sb), cx, cy, time.UnixMilli(f.Timestamp))
		shots = append(shots, s)
		d.recent = append(d.recent, recentShot{x: cx, y: cy, frame: d.frames})
		logger.Debug(module, "Shot %s at (%.1f, %.1f), %d px", s.Color, cx, cy, area)
	}
	return shots, mask
}

func (d *Detector) sectorOn(x, y float64, w, h int) bool {
	if d.sectors == nil {
		return true
	}
	rows, cols := d.sectors.SectorGridSize()
	row := int(y * float64(rows) / float64(h))
	col := int(x * float64(cols) / float64(w))
	return d.sectors.IsSectorOn(row, col)
}

func (d *Detector) expireRecent() {
	kept := d.recent[:0]
	for _, r := range d.recent {
		if d.frames-r.frame <= uint64(d.cfg.SuppressFrames) {
			kept = append(kept, r)
		}
	}
	d.recent = kept
}

func (d *Detector) isRecent(x, y float64) bool {
	for _, r := range d.recent {
		if math.Hypot(x-r.x, y-r.y) <= d.cfg.SuppressRadius {
			return true
		}
	}
	return false
}

// classify picks the laser color from the blob's channel sums. Blobs with
// no dominant channel come from infrared lasers seen through a filterless
// sensor.
func classify(r, g, b float64) types.ShotColor {
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	if hi == 0 || (hi-lo)/hi < 0.15 {
		return types.ShotInfrared
	}
	if g > r {
		return types.ShotGreen
	}
	return types.ShotRed
}

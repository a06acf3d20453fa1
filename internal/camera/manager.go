// Package camera runs the frame acquisition pipeline for one capture device.
//
// A Manager owns a single goroutine that polls its DeviceSource, estimates
// the frame rate, hands frames to the calibration engine or the shot
// detector, feeds recorders and finally updates the View. Control
// operations may be called from any goroutine.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/internal/timeutil"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const module = "Camera"

const (
	// DefaultFPS is assumed until the first estimate is available.
	DefaultFPS = 30.0
	// MinimumFPS triggers a one-time warning when the estimate falls below it.
	MinimumFPS = 5.0

	defaultPollInterval       = time.Millisecond
	defaultDiagnosticDuration = time.Second

	fpsEstimateInterval = 5
	calibrationInterval = 3
)

var (
	// ErrDeviceUnavailable is returned by Start when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrAlreadyStreaming is returned by Start on a running Manager.
	ErrAlreadyStreaming = errors.New("camera already streaming")
	// ErrAlreadyRecording is returned when a recording of the same kind is active.
	ErrAlreadyRecording = errors.New("recording already active")
	// ErrNotRecording is returned when stopping an inactive recording.
	ErrNotRecording = errors.New("recording not active")
	// ErrNotCalibrated is returned when an operation needs projection bounds.
	ErrNotCalibrated = errors.New("projection bounds not set")
	// ErrNoRecorder is returned when no StreamRecorder factory was configured.
	ErrNoRecorder = errors.New("no stream recorder configured")
	// ErrSectorGrid is returned when a sector grid has the wrong shape.
	ErrSectorGrid = errors.New("sector grid shape mismatch")
)

// Calibrator is the part of the calibration engine the pipeline drives.
type Calibrator interface {
	Start(measureDelay bool, cb func(calibration.Result))
	ProcessFrame(f *types.Frame)
	UndistortFrame(f *types.Frame) *types.Frame
	IsCalibrated() bool
}

// Options configures a Manager. Device, Detector and View are required.
type Options struct {
	Device    DeviceSource
	Detector  ShotDetector
	View      View
	ErrorView ErrorView
	Listener  CalibrationListener

	// Calibrator defaults to a calibration.Engine built from CalibrationConfig
	// with the Manager as its arena controller.
	Calibrator        Calibrator
	CalibrationConfig calibration.Config

	// NewStreamRecorder creates recorders for stream and calibrated-area
	// recordings.
	NewStreamRecorder func() StreamRecorder
	// CalibratedAreaPath enables calibrated-area recording after a
	// successful auto-calibration.
	CalibratedAreaPath string

	Clock   timeutil.Clock
	Metrics *metrics.Metrics

	FeedSize           image.Point
	SectorRows         int
	SectorCols         int
	PollInterval       time.Duration
	DiagnosticDuration time.Duration
	MultiCamera        bool
}

func (o *Options) applyDefaults() {
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.FeedSize == (image.Point{}) {
		o.FeedSize = image.Pt(640, 480)
	}
	if o.SectorRows <= 0 {
		o.SectorRows = 3
	}
	if o.SectorCols <= 0 {
		o.SectorCols = 3
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.DiagnosticDuration <= 0 {
		o.DiagnosticDuration = defaultDiagnosticDuration
	}
	if o.CalibrationConfig.PatternCols == 0 {
		o.CalibrationConfig = calibration.DefaultConfig()
	}
}

// Manager is the frame pipeline for one camera.
type Manager struct {
	opts      Options
	device    DeviceSource
	detector  ShotDetector
	view      View
	errorView ErrorView
	listener  CalibrationListener
	calib     Calibrator
	clock     timeutil.Clock
	metrics   *metrics.Metrics

	// Flags
	streaming       atomic.Bool
	detecting       atomic.Bool
	calibrating     atomic.Bool
	detectionLocked atomic.Bool
	autoCalibrating atomic.Bool
	autoCalibrated  atomic.Bool
	cropFeed        atomic.Bool
	limitDetect     atomic.Bool
	recordingShots  atomic.Bool

	feedMu   sync.RWMutex
	feedSize image.Point

	bounds  boundsCell
	sectors atomic.Pointer[[][]bool]

	frameCount atomic.Uint64
	fpsBits    atomic.Uint64
	frameDelay atomic.Int64
	fps        fpsState

	warnedFPS        atomic.Bool
	warnedBrightness atomic.Bool
	brightness       *diagnostic
	motion           *diagnostic

	recMu      sync.Mutex
	stream     *streamRecording
	calibrated *streamRecording
	rolling    ClipRecorder
	clips      sync.Map // uuid.UUID -> ClipRecorder

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type streamRecording struct {
	rec   StreamRecorder
	start time.Time
	first bool
}

// New creates a Manager. The device is not opened until Start.
func New(opts Options) (*Manager, error) {
	if opts.Device == nil || opts.Detector == nil || opts.View == nil {
		return nil, errors.New("camera: device, detector and view are required")
	}
	opts.applyDefaults()

	m := &Manager{
		opts:      opts,
		device:    opts.Device,
		detector:  opts.Detector,
		view:      opts.View,
		errorView: opts.ErrorView,
		listener:  opts.Listener,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		feedSize:  opts.FeedSize,
	}
	m.calib = opts.Calibrator
	if m.calib == nil {
		m.calib = calibration.New(opts.CalibrationConfig, m)
	}
	m.frameDelay.Store(int64(types.FrameDelayUnmeasured))
	m.setFPSValue(DefaultFPS)
	m.fps.lastMs = -1

	grid := make([][]bool, opts.SectorRows)
	for r := range grid {
		grid[r] = make([]bool, opts.SectorCols)
		for c := range grid[r] {
			grid[r][c] = true
		}
	}
	m.sectors.Store(&grid)

	m.brightness = newDiagnostic("Warning: Excessive brightness", color.RGBA{R: 255, A: 255})
	m.motion = newDiagnostic("Warning: Excessive motion -- Try reducing the camera exposure setting", color.RGBA{R: 255, A: 255})

	m.detector.SetFrameSize(opts.FeedSize)
	return m, nil
}

// Name returns the device name.
func (m *Manager) Name() string { return m.device.Name() }

// Start opens the device if needed and launches the acquisition goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if !m.streaming.CompareAndSwap(false, true) {
		return ErrAlreadyStreaming
	}

	if !m.device.IsOpen() {
		want := m.FeedSize()
		got := m.device.Open(want)
		if got.X == SizeUnavailable || got.Y == SizeUnavailable {
			m.streaming.Store(false)
			logger.Error(module, "Camera %s is locked or unavailable", m.Name())
			if m.errorView != nil {
				m.errorView.ShowCameraLockError(m.Name(), m.opts.MultiCamera)
			}
			return fmt.Errorf("open %s: %w", m.Name(), ErrDeviceUnavailable)
		}
		if got != want {
			logger.Warn(module, "Camera %s delivered %dx%d instead of requested %dx%d",
				m.Name(), got.X, got.Y, want.X, want.Y)
			m.feedMu.Lock()
			m.feedSize = got
			m.feedMu.Unlock()
			m.detector.SetFrameSize(got)
		}
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run()

	logger.Info(module, "Streaming started for %s at %s", m.Name(), m.FeedSize())
	return nil
}

func (m *Manager) run() {
	defer m.wg.Done()
	for m.streaming.Load() {
		select {
		case <-m.ctx.Done():
			return
		default:
		}
		if !m.Cycle() {
			return
		}
	}
}

// Close stops the acquisition goroutine, finalizes recordings and closes
// the device. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.detecting.Store(false)
		m.streaming.Store(false)
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()

		if e := m.StopStreamRecording(); e != nil && !errors.Is(e, ErrNotRecording) {
			err = errors.Join(err, e)
		}
		if e := m.StopRecordingShots(); e != nil && !errors.Is(e, ErrNotRecording) {
			err = errors.Join(err, e)
		}
		if e := m.stopCalibratedAreaRecording(); e != nil {
			err = errors.Join(err, e)
		}
		m.brightness.cancel()
		m.motion.cancel()

		if e := m.device.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", m.Name(), e))
		}
		logger.Info(module, "Camera %s closed (%d frames)", m.Name(), m.FrameCount())
	})
	return err
}

// IsStreaming reports whether the acquisition loop is running.
func (m *Manager) IsStreaming() bool { return m.streaming.Load() }

// Cycle runs one iteration of the acquisition loop. It returns false when
// the loop must terminate.
func (m *Manager) Cycle() bool {
	if !m.device.IsImageNew() {
		m.clock.Sleep(m.opts.PollInterval)
		return true
	}

	img := m.device.GetFrame()
	now := m.clock.Now()

	if img == nil {
		if !m.device.IsOpen() {
			logger.Error(module, "Camera %s disappeared", m.Name())
			if m.streaming.Load() && m.errorView != nil {
				m.errorView.ShowMissingCameraError(m.Name())
			}
			m.streaming.Store(false)
			return false
		}
		logger.Warn(module, "Null frame from camera %s", m.Name())
		if m.metrics != nil {
			m.metrics.NullFrames.Add(1)
		}
		return true
	}
	if m.metrics != nil {
		m.metrics.FramesRead.Add(1)
	}

	if everyNth(m.FrameCount(), math.Min(m.FPS(), fpsEstimateInterval)) && !m.autoCalibrating.Load() {
		m.estimateFPS(now)
	}

	frame := &types.Frame{Image: img, Timestamp: now.UnixMilli()}
	current := m.processFrame(frame)

	b, hasBounds := m.frameBounds(current)
	crop := m.cropFeed.Load() && hasBounds
	if crop {
		current = current.Crop(b)
	}

	if m.recordingShots.Load() {
		m.recordShotFrame(current)
	}
	m.encodeStream(current, now)

	if crop {
		m.view.UpdateBackground(current, &b)
	} else {
		m.view.UpdateBackground(current, nil)
	}

	if m.metrics != nil {
		m.metrics.FramesProcessed.Add(1)
		m.metrics.UpdateProcessLatency(m.clock.Since(now))
	}
	return true
}

// processFrame routes a frame to calibration or detection and returns the
// frame to display.
func (m *Manager) processFrame(frame *types.Frame) *types.Frame {
	count := m.frameCount.Add(1)
	frame.Number = count

	if m.autoCalibrating.Load() && everyNth(count, math.Min(m.FPS(), calibrationInterval)) {
		if m.metrics != nil {
			m.metrics.CalibrationFrames.Add(1)
		}
		m.calib.ProcessFrame(frame)
		return frame
	}

	b, hasBounds := m.frameBounds(frame)
	current := frame
	var region *types.Frame

	if m.autoCalibrated.Load() && hasBounds {
		if m.calib.IsCalibrated() {
			current = m.calib.UndistortFrame(frame)
		}
		region = current.Crop(b)
		m.encodeCalibratedArea(region, m.clock.Now())
	}

	detecting := m.detecting.Load()
	var shots []types.Shot
	if (m.limitDetect.Load() || m.cropFeed.Load()) && hasBounds {
		if region == nil {
			region = current.Crop(b)
		}
		shots = m.detector.ProcessFrame(region, detecting)
		if !m.cropFeed.Load() {
			for i := range shots {
				shots[i].X += float64(b.MinX)
				shots[i].Y += float64(b.MinY)
			}
		}
	} else {
		shots = m.detector.ProcessFrame(current, detecting)
	}

	for _, s := range shots {
		m.handleShot(s)
	}
	return current
}

func (m *Manager) handleShot(s types.Shot) {
	logger.Debug(module, "Shot %s %s at (%.1f, %.1f)", s.ID, s.Color, s.X, s.Y)
	if m.metrics != nil {
		if s.Injected {
			m.metrics.ShotsInjected.Add(1)
		} else {
			m.metrics.ShotsDetected.Add(1)
		}
	}
	m.view.AddShot(s)

	if !m.recordingShots.Load() {
		return
	}
	m.recMu.Lock()
	rolling := m.rolling
	m.recMu.Unlock()
	if rolling == nil {
		return
	}
	m.clips.Store(s.ID, rolling.Fork(s))
	if m.metrics != nil {
		m.metrics.ClipsActive.Add(1)
	}
}

// everyNth reports whether count falls on an interval boundary. Intervals
// below one frame select every frame.
func everyNth(count uint64, interval float64) bool {
	if interval < 1 || math.IsNaN(interval) {
		return true
	}
	return int64(math.Mod(float64(count), interval)) == 0
}

// FeedSize returns the size the device delivers.
func (m *Manager) FeedSize() image.Point {
	m.feedMu.RLock()
	defer m.feedMu.RUnlock()
	return m.feedSize
}

// FrameCount returns the number of frames processed.
func (m *Manager) FrameCount() uint64 { return m.frameCount.Load() }

// FrameDelay returns the last measured projector-to-camera delay.
func (m *Manager) FrameDelay() types.FrameDelay {
	return types.FrameDelay(m.frameDelay.Load())
}

// SetDetecting turns shot detection on or off. It is a no-op while the
// detection lock is held or while calibrating.
func (m *Manager) SetDetecting(on bool) {
	if m.detectionLocked.Load() {
		logger.Debug(module, "Detection locked, ignoring SetDetecting(%t)", on)
		return
	}
	if m.calibrating.Load() {
		logger.Debug(module, "Calibrating, ignoring SetDetecting(%t)", on)
		return
	}
	m.detecting.Store(on)
}

// IsDetecting reports whether shot detection is on.
func (m *Manager) IsDetecting() bool { return m.detecting.Load() }

// SetCalibrating marks manual or automatic calibration in progress.
// Entering calibration forces detection off; leaving it does not restore it.
func (m *Manager) SetCalibrating(on bool) {
	m.calibrating.Store(on)
	if on {
		m.detecting.Store(false)
	}
}

// IsCalibrating reports whether calibration is in progress.
func (m *Manager) IsCalibrating() bool { return m.calibrating.Load() }

// LockDetection freezes the detecting flag at its current value.
func (m *Manager) LockDetection() { m.detectionLocked.Store(true) }

// UnlockDetection releases LockDetection.
func (m *Manager) UnlockDetection() { m.detectionLocked.Store(false) }

// IsDetectionLocked reports whether the detection lock is held.
func (m *Manager) IsDetectionLocked() bool { return m.detectionLocked.Load() }

// InjectShot queues a synthetic shot that will be reported on the next frame.
func (m *Manager) InjectShot(c types.ShotColor, x, y float64, scaled bool) {
	logger.Info(module, "Injecting %s shot at (%.1f, %.1f)", c, x, y)
	m.detector.AddShot(c, x, y, scaled)
}

// SetCropFeedToProjection crops the displayed and recorded feed to the
// projection bounds.
func (m *Manager) SetCropFeedToProjection(on bool) { m.cropFeed.Store(on) }

// IsCroppingFeed reports whether the feed is cropped to the projection.
func (m *Manager) IsCroppingFeed() bool { return m.cropFeed.Load() }

// SetLimitDetectProjection limits detection to the projection bounds.
func (m *Manager) SetLimitDetectProjection(on bool) { m.limitDetect.Store(on) }

// IsLimitingDetection reports whether detection is limited to the projection.
func (m *Manager) IsLimitingDetection() bool { return m.limitDetect.Load() }

// EnableAutoCalibration restarts the calibration engine. While enabled,
// every min(fps, 3)th frame goes to the engine.
func (m *Manager) EnableAutoCalibration(calculateDelay bool) {
	logger.Info(module, "Auto-calibration enabled for %s (frame delay: %t)", m.Name(), calculateDelay)
	m.autoCalibrating.Store(true)
	m.autoCalibrated.Store(false)
	if m.metrics != nil {
		m.metrics.Calibrated.Store(0)
	}
	m.calib.Start(calculateDelay, m.autoCalibrateSuccess)
}

// DisableAutoCalibration stops handing frames to the engine.
func (m *Manager) DisableAutoCalibration() {
	m.autoCalibrating.Store(false)
}

// IsAutoCalibrating reports whether the engine is receiving frames.
func (m *Manager) IsAutoCalibrating() bool { return m.autoCalibrating.Load() }

// IsAutoCalibrated reports whether the last auto-calibration succeeded.
func (m *Manager) IsAutoCalibrated() bool { return m.autoCalibrated.Load() }

func (m *Manager) autoCalibrateSuccess(res calibration.Result) {
	if !m.autoCalibrating.Load() {
		return
	}
	m.autoCalibrating.Store(false)
	m.frameDelay.Store(int64(res.FrameDelay))
	m.autoCalibrated.Store(true)
	if m.metrics != nil {
		m.metrics.Calibrated.Store(1)
		m.metrics.FrameDelayMs.Store(int64(res.FrameDelay))
	}

	logger.Info(module, "Auto-calibration complete for %s: bounds %s, delay %d", m.Name(), res.Bounds, res.FrameDelay)

	if m.listener != nil {
		m.listener.Calibrate(res.Bounds, res.Paper, false)
	} else {
		m.SetProjectionBounds(res.Bounds)
	}

	if m.opts.CalibratedAreaPath != "" {
		if err := m.StartCalibratedAreaRecording(m.opts.CalibratedAreaPath); err != nil {
			logger.Error(module, "Calibrated-area recording: %v", err)
		}
	}
}

// SetArenaBackground forwards to the calibration listener.
func (m *Manager) SetArenaBackground(resource string) {
	if m.listener == nil {
		logger.Error(module, "No calibration listener to set arena background %q", resource)
		return
	}
	m.listener.SetArenaBackground(resource)
}

package webmonitor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const (
	module = "WebMonitor"

	// ArenaPattern is the arena resource for the calibration board.
	ArenaPattern = "pattern"

	maxErrors = 8
)

// ErrNoCamera is returned by controls used before Attach.
var ErrNoCamera = errors.New("no camera attached")

// Camera is the part of the camera pipeline the monitor drives.
type Camera interface {
	Name() string
	IsStreaming() bool
	FPS() float64
	FrameCount() uint64
	FrameDelay() types.FrameDelay

	IsDetecting() bool
	SetDetecting(on bool)
	IsCalibrating() bool
	SetCalibrating(on bool)
	EnableAutoCalibration(calculateDelay bool)
	DisableAutoCalibration()
	IsAutoCalibrating() bool

	SetProjectionBounds(b types.Bounds)
	ProjectionBounds() (types.Bounds, bool)
	InjectShot(c types.ShotColor, x, y float64, scaled bool)

	StartStreamRecording(path string) error
	StopStreamRecording() error
	IsRecordingStream() bool
}

type diagnosticEntry struct {
	text  string
	color color.Color
}

// Monitor is the operator-facing view of one camera. It implements
// camera.View, camera.ErrorView and camera.CalibrationListener, keeps the
// state served by /api/status and publishes every change as an Event.
type Monitor struct {
	cfg    Config
	events *EventBroadcaster
	frames *FrameBroadcaster

	mu          sync.Mutex
	cam         Camera
	shots       []types.Shot
	diagnostics map[camera.DiagnosticHandle]diagnosticEntry
	diagOrder   []camera.DiagnosticHandle
	nextHandle  camera.DiagnosticHandle
	errors      []ErrorEntry
	bounds      *types.Bounds
	paper       *types.Dimension
	manual      bool
	arena       string
	background  string
	framesSeen  uint64
}

// NewMonitor creates a monitor. Attach must be called before the camera
// controls are used.
func NewMonitor(cfg Config, m *metrics.Metrics) *Monitor {
	cfg = cfg.withDefaults()
	mon := &Monitor{
		cfg:         cfg,
		events:      NewEventBroadcaster(cfg.EventBuffer, m),
		diagnostics: make(map[camera.DiagnosticHandle]diagnosticEntry),
	}
	mon.frames = NewFrameBroadcaster(cfg.MJPEGInterval, mon.renderFrame, m)
	return mon
}

// Attach sets the camera the monitor controls.
func (m *Monitor) Attach(cam Camera) {
	m.mu.Lock()
	m.cam = cam
	m.mu.Unlock()
}

// Events returns the event broadcaster shared by SSE and WebRTC clients.
func (m *Monitor) Events() *EventBroadcaster { return m.events }

// Frames returns the preview broadcaster.
func (m *Monitor) Frames() *FrameBroadcaster { return m.frames }

// Start launches the preview renderer.
func (m *Monitor) Start() { m.frames.Start() }

// Stop halts the preview renderer and disconnects preview clients.
func (m *Monitor) Stop() { m.frames.Stop() }

func (m *Monitor) attached() (Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cam == nil {
		return nil, ErrNoCamera
	}
	return m.cam, nil
}

func (m *Monitor) publish(kind string, fields map[string]any) {
	m.events.Publish(Event{Type: kind, Timestamp: time.Now(), Fields: fields})
}

// UpdateBackground hands the processed feed to the preview renderer.
func (m *Monitor) UpdateBackground(f *types.Frame, _ *types.Bounds) {
	if f == nil || f.Image == nil {
		return
	}
	m.mu.Lock()
	m.framesSeen++
	m.mu.Unlock()
	m.frames.Publish(f.Image)
}

// AddShot records a shot and publishes it.
func (m *Monitor) AddShot(s types.Shot) {
	m.mu.Lock()
	m.shots = append(m.shots, s)
	if len(m.shots) > m.cfg.HistorySize {
		m.shots = m.shots[len(m.shots)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()

	logger.Debug(module, "Shot %s at (%.1f, %.1f)", s.Color, s.X, s.Y)
	m.publish("shot", newShotEvent(s).fields())
}

// ClearShots forgets the shot history.
func (m *Monitor) ClearShots() {
	m.mu.Lock()
	m.shots = nil
	m.mu.Unlock()
	m.publish("shots_cleared", nil)
}

func (m *Monitor) AddDiagnosticMessage(text string, c color.Color) camera.DiagnosticHandle {
	m.mu.Lock()
	m.nextHandle++
	h := m.nextHandle
	m.diagnostics[h] = diagnosticEntry{text: text, color: c}
	m.diagOrder = append(m.diagOrder, h)
	m.mu.Unlock()

	m.publish("diagnostic", map[string]any{
		"id":    uint64(h),
		"text":  text,
		"color": hexColor(c),
		"shown": true,
	})
	return h
}

func (m *Monitor) RemoveDiagnosticMessage(h camera.DiagnosticHandle) {
	m.mu.Lock()
	entry, ok := m.diagnostics[h]
	if ok {
		delete(m.diagnostics, h)
		for i, o := range m.diagOrder {
			if o == h {
				m.diagOrder = append(m.diagOrder[:i], m.diagOrder[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.publish("diagnostic", map[string]any{
		"id":    uint64(h),
		"text":  entry.text,
		"shown": false,
	})
}

func (m *Monitor) showError(kind, cameraName, message string) {
	entry := ErrorEntry{
		Kind:      kind,
		Camera:    cameraName,
		Message:   message,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
	m.mu.Lock()
	m.errors = append(m.errors, entry)
	if len(m.errors) > maxErrors {
		m.errors = m.errors[len(m.errors)-maxErrors:]
	}
	m.mu.Unlock()

	logger.Warn(module, "%s", message)
	m.publish("error", map[string]any{
		"kind":    kind,
		"camera":  cameraName,
		"message": message,
	})
}

func (m *Monitor) ShowCameraLockError(cameraName string, multiCamera bool) {
	msg := fmt.Sprintf("Camera %s is in use by another application", cameraName)
	if multiCamera {
		msg += "; the remaining cameras keep running"
	}
	m.showError("camera_locked", cameraName, msg)
}

func (m *Monitor) ShowMissingCameraError(cameraName string) {
	m.showError("camera_missing", cameraName, fmt.Sprintf("Camera %s stopped delivering frames", cameraName))
}

func (m *Monitor) ShowFPSWarning(cameraName string, fps float64) {
	m.showError("low_fps", cameraName, fmt.Sprintf("Camera %s is running at %.1f FPS; detection may miss shots", cameraName, fps))
}

func (m *Monitor) ShowBrightnessWarning(cameraName string) {
	m.showError("brightness", cameraName, fmt.Sprintf("Camera %s is overexposed; lower the exposure or projector brightness", cameraName))
}

// Calibrate applies bounds to the camera, leaves calibration mode and
// restores the arena background.
func (m *Monitor) Calibrate(bounds types.Bounds, paper *types.Dimension, manual bool) {
	cam, err := m.attached()
	if err != nil {
		logger.Error(module, "Calibrate: %v", err)
		return
	}

	m.mu.Lock()
	b := bounds
	m.bounds = &b
	m.paper = nil
	if paper != nil {
		p := *paper
		m.paper = &p
	}
	m.manual = manual
	m.arena = m.background
	m.mu.Unlock()

	cam.DisableAutoCalibration()
	cam.SetProjectionBounds(bounds)
	cam.SetCalibrating(false)
	cam.SetDetecting(true)

	logger.Info(module, "Calibrated %s to %s (manual: %t)", cam.Name(), bounds, manual)

	fields := map[string]any{
		"state":  "calibrated",
		"bounds": boundsFields(bounds),
		"manual": manual,
	}
	if paper != nil {
		fields["paper"] = map[string]any{"width": paper.Width, "height": paper.Height}
	}
	if d := cam.FrameDelay(); d.Measured() {
		fields["frame_delay_ms"] = int64(d)
	}
	m.publish("calibration", fields)
	m.publishArena()
}

// SetArenaBackground switches what the arena page shows. An empty
// resource blanks the arena.
func (m *Monitor) SetArenaBackground(resource string) {
	m.mu.Lock()
	changed := m.arena != resource
	m.arena = resource
	m.mu.Unlock()
	if changed {
		m.publishArena()
	}
}

// SetBackground sets the arena background shown outside calibration.
func (m *Monitor) SetBackground(resource string) {
	m.mu.Lock()
	m.background = resource
	calibrating := m.arena == ArenaPattern
	if !calibrating {
		m.arena = resource
	}
	m.mu.Unlock()
	if !calibrating {
		m.publishArena()
	}
}

// Arena returns the current arena resource.
func (m *Monitor) Arena() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena
}

func (m *Monitor) publishArena() {
	m.publish("arena", map[string]any{"background": m.Arena()})
}

// StartCalibration puts the pattern on the arena and starts
// auto-calibration.
func (m *Monitor) StartCalibration(calculateDelay bool) error {
	cam, err := m.attached()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.arena = ArenaPattern
	m.mu.Unlock()

	cam.SetCalibrating(true)
	cam.EnableAutoCalibration(calculateDelay)

	m.publish("calibration", map[string]any{"state": "started", "calculate_delay": calculateDelay})
	m.publishArena()
	return nil
}

// StopCalibration abandons a running calibration.
func (m *Monitor) StopCalibration() error {
	cam, err := m.attached()
	if err != nil {
		return err
	}
	cam.DisableAutoCalibration()
	cam.SetCalibrating(false)

	m.mu.Lock()
	m.arena = m.background
	m.mu.Unlock()

	m.publish("calibration", map[string]any{"state": "stopped"})
	m.publishArena()
	return nil
}

// SetDetecting toggles shot detection.
func (m *Monitor) SetDetecting(on bool) error {
	cam, err := m.attached()
	if err != nil {
		return err
	}
	cam.SetDetecting(on)
	m.publish("detection", map[string]any{"enabled": cam.IsDetecting()})
	return nil
}

// InjectShot queues a synthetic shot on the camera.
func (m *Monitor) InjectShot(c types.ShotColor, x, y float64, scaled bool) error {
	cam, err := m.attached()
	if err != nil {
		return err
	}
	cam.InjectShot(c, x, y, scaled)
	return nil
}

// Status returns a snapshot of the camera and monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	cam := m.cam
	st := Status{
		Arena:       m.arena,
		Shots:       make([]ShotEvent, 0, len(m.shots)),
		Diagnostics: make([]DiagnosticEntry, 0, len(m.diagOrder)),
		Errors:      append([]ErrorEntry(nil), m.errors...),
		Timestamp:   float64(time.Now().UnixMilli()) / 1000,
	}
	for _, s := range m.shots {
		st.Shots = append(st.Shots, newShotEvent(s))
	}
	for _, h := range m.diagOrder {
		d := m.diagnostics[h]
		st.Diagnostics = append(st.Diagnostics, DiagnosticEntry{ID: uint64(h), Text: d.text, Color: hexColor(d.color)})
	}
	st.Calibration.Manual = m.manual
	if m.bounds != nil {
		b := *m.bounds
		st.Calibration.Bounds = &b
	}
	if m.paper != nil {
		p := *m.paper
		st.Calibration.Paper = &p
	}
	m.mu.Unlock()

	if cam == nil {
		return st
	}
	st.Camera = CameraStatus{
		Name:       cam.Name(),
		Streaming:  cam.IsStreaming(),
		FPS:        cam.FPS(),
		FrameCount: cam.FrameCount(),
		Detecting:  cam.IsDetecting(),
		Recording:  cam.IsRecordingStream(),
	}
	st.Calibration.Calibrating = cam.IsCalibrating()
	st.Calibration.AutoCalibrating = cam.IsAutoCalibrating()
	if b, ok := cam.ProjectionBounds(); ok {
		st.Calibration.Calibrated = true
		st.Calibration.Bounds = &b
	}
	if d := cam.FrameDelay(); d.Measured() {
		ms := int64(d)
		st.Calibration.FrameDelayMs = &ms
	}
	return st
}

// renderFrame draws the current shots and diagnostics over img.
func (m *Monitor) renderFrame(img *image.RGBA) []byte {
	m.mu.Lock()
	ov := overlay{shots: append([]types.Shot(nil), m.shots...)}
	for _, h := range m.diagOrder {
		d := m.diagnostics[h]
		ov.diagnostics = append(ov.diagnostics, diagnosticText{text: d.text, color: d.color})
	}
	cam := m.cam
	m.mu.Unlock()

	if cam != nil {
		ov.banner = fmt.Sprintf("%s  %.1f fps", cam.Name(), cam.FPS())
	}
	data, err := renderPreview(img, m.cfg.PreviewWidth, m.cfg.JPEGQuality, ov)
	if err != nil {
		logger.Warn(module, "Render preview: %v", err)
		return nil
	}
	return data
}

package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

var (
	_ camera.View                = (*Monitor)(nil)
	_ camera.ErrorView           = (*Monitor)(nil)
	_ camera.CalibrationListener = (*Monitor)(nil)
	_ Camera                     = (*camera.Manager)(nil)
)

type injected struct {
	color  types.ShotColor
	x, y   float64
	scaled bool
}

type fakeCamera struct {
	mu              sync.Mutex
	detecting       bool
	calibrating     bool
	autoCalibrating bool
	calculateDelay  bool
	bounds          *types.Bounds
	delay           types.FrameDelay
	shots           []injected
	recording       string
}

func newFakeCamera() *fakeCamera { return &fakeCamera{delay: types.FrameDelayUnmeasured} }

func (c *fakeCamera) Name() string                 { return "fake0" }
func (c *fakeCamera) IsStreaming() bool            { return true }
func (c *fakeCamera) FPS() float64                 { return 30 }
func (c *fakeCamera) FrameCount() uint64           { return 42 }
func (c *fakeCamera) FrameDelay() types.FrameDelay { return c.delay }

func (c *fakeCamera) IsDetecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detecting
}

func (c *fakeCamera) SetDetecting(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calibrating {
		c.detecting = on
	}
}

func (c *fakeCamera) IsCalibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibrating
}

func (c *fakeCamera) SetCalibrating(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrating = on
	if on {
		c.detecting = false
	}
}

func (c *fakeCamera) EnableAutoCalibration(calculateDelay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoCalibrating = true
	c.calculateDelay = calculateDelay
}

func (c *fakeCamera) DisableAutoCalibration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoCalibrating = false
}

func (c *fakeCamera) IsAutoCalibrating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoCalibrating
}

func (c *fakeCamera) SetProjectionBounds(b types.Bounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bounds = &b
}

func (c *fakeCamera) ProjectionBounds() (types.Bounds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounds == nil {
		return types.Bounds{}, false
	}
	return *c.bounds, true
}

func (c *fakeCamera) InjectShot(col types.ShotColor, x, y float64, scaled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shots = append(c.shots, injected{color: col, x: x, y: y, scaled: scaled})
}

func (c *fakeCamera) StartStreamRecording(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording != "" {
		return camera.ErrAlreadyRecording
	}
	c.recording = path
	return nil
}

func (c *fakeCamera) StopStreamRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording == "" {
		return camera.ErrNotRecording
	}
	c.recording = ""
	return nil
}

func (c *fakeCamera) IsRecordingStream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording != ""
}

func (c *fakeCamera) injectedShots() []injected {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]injected(nil), c.shots...)
}

func (c *fakeCamera) measuresDelay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculateDelay
}

func (c *fakeCamera) recordingPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeCamera) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	cfg.RecordingDir = t.TempDir()
	cfg.ArenaSize = image.Pt(200, 150)
	m := NewMonitor(cfg, metrics.New())
	cam := newFakeCamera()
	m.Attach(cam)
	return m, cam
}

func nextEvent(t *testing.T, ch <-chan *SerializedEvent) map[string]any {
	t.Helper()
	select {
	case ev := <-ch:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ev.JSONData, &payload))
		return payload
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return nil
	}
}

func TestAddShotKeepsHistoryAndPublishes(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, ch := m.Events().Subscribe()

	for i := 0; i < 5; i++ {
		m.AddShot(types.NewShot(types.ShotGreen, float64(i), 2, time.UnixMilli(1000)))
	}

	ev := nextEvent(t, ch)
	assert.Equal(t, "shot", ev["type"])
	assert.Equal(t, "green", ev["color"])
	assert.Equal(t, 0.0, ev["x"])

	shots := m.Status().Shots
	require.Len(t, shots, 3)
	assert.Equal(t, 2.0, shots[0].X)
	assert.Equal(t, 4.0, shots[2].X)

	m.ClearShots()
	assert.Empty(t, m.Status().Shots)
}

func TestDiagnosticMessages(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, ch := m.Events().Subscribe()

	h1 := m.AddDiagnosticMessage("Too bright", color.RGBA{R: 255, A: 255})
	h2 := m.AddDiagnosticMessage("Motion", color.RGBA{G: 255, A: 255})
	assert.NotEqual(t, h1, h2)

	ev := nextEvent(t, ch)
	assert.Equal(t, "diagnostic", ev["type"])
	assert.Equal(t, "#ff0000", ev["color"])
	assert.Equal(t, true, ev["shown"])

	m.RemoveDiagnosticMessage(h1)
	m.RemoveDiagnosticMessage(h1)

	diags := m.Status().Diagnostics
	require.Len(t, diags, 1)
	assert.Equal(t, "Motion", diags[0].Text)
	assert.Equal(t, "#00ff00", diags[0].Color)

	nextEvent(t, ch)
	removed := nextEvent(t, ch)
	assert.Equal(t, false, removed["shown"])
	select {
	case <-ch:
		t.Fatal("second removal of the same handle must not publish")
	default:
	}
}

func TestErrorViewRecordsErrors(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.ShowCameraLockError("cam0", true)
	m.ShowMissingCameraError("cam0")
	m.ShowFPSWarning("cam0", 3.5)
	m.ShowBrightnessWarning("cam0")

	errs := m.Status().Errors
	require.Len(t, errs, 4)
	assert.Equal(t, "camera_locked", errs[0].Kind)
	assert.Contains(t, errs[0].Message, "remaining cameras")
	assert.Equal(t, "camera_missing", errs[1].Kind)
	assert.Contains(t, errs[2].Message, "3.5 FPS")
	assert.Equal(t, "brightness", errs[3].Kind)

	for i := 0; i < 10; i++ {
		m.ShowMissingCameraError("cam1")
	}
	assert.Len(t, m.Status().Errors, maxErrors)
}

func TestCalibrationFlow(t *testing.T) {
	m, cam := newTestMonitor(t)
	m.SetBackground("range.png")
	assert.Equal(t, "range.png", m.Arena())

	require.NoError(t, m.StartCalibration(false))
	assert.Equal(t, ArenaPattern, m.Arena())
	assert.True(t, cam.IsCalibrating())
	assert.True(t, cam.IsAutoCalibrating())
	assert.False(t, cam.measuresDelay())

	m.SetBackground("other.png")
	assert.Equal(t, ArenaPattern, m.Arena(), "background change waits for calibration to end")

	m.SetArenaBackground("")
	assert.Equal(t, "", m.Arena())

	_, ch := m.Events().Subscribe()
	b := types.Bounds{MinX: 10, MinY: 20, Width: 300, Height: 200}
	m.Calibrate(b, &types.Dimension{Width: 40, Height: 30}, false)

	got, ok := cam.ProjectionBounds()
	require.True(t, ok)
	assert.Equal(t, b, got)
	assert.False(t, cam.IsCalibrating())
	assert.False(t, cam.IsAutoCalibrating())
	assert.True(t, cam.IsDetecting())
	assert.Equal(t, "other.png", m.Arena())

	ev := nextEvent(t, ch)
	assert.Equal(t, "calibration", ev["type"])
	assert.Equal(t, "calibrated", ev["state"])
	assert.Equal(t, map[string]any{"min_x": 10.0, "min_y": 20.0, "width": 300.0, "height": 200.0}, ev["bounds"])
	assert.Equal(t, map[string]any{"width": 40.0, "height": 30.0}, ev["paper"])
	assert.Equal(t, "arena", nextEvent(t, ch)["type"])

	st := m.Status()
	assert.True(t, st.Calibration.Calibrated)
	assert.Equal(t, 40.0, st.Calibration.Paper.Width)
	assert.Nil(t, st.Calibration.FrameDelayMs)
}

func TestStopCalibrationRestoresArena(t *testing.T) {
	m, cam := newTestMonitor(t)
	require.NoError(t, m.StartCalibration(true))
	assert.True(t, cam.measuresDelay())

	require.NoError(t, m.StopCalibration())
	assert.False(t, cam.IsAutoCalibrating())
	assert.False(t, cam.IsCalibrating())
	assert.Equal(t, "", m.Arena())
}

func TestControlsNeedCamera(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil)
	assert.ErrorIs(t, m.StartCalibration(true), ErrNoCamera)
	assert.ErrorIs(t, m.StopCalibration(), ErrNoCamera)
	assert.ErrorIs(t, m.SetDetecting(true), ErrNoCamera)
	assert.ErrorIs(t, m.InjectShot(types.ShotRed, 1, 1, false), ErrNoCamera)
	assert.Equal(t, CameraStatus{}, m.Status().Camera)
}

func TestSerializedEventFormats(t *testing.T) {
	ev, err := serializeEvent(Event{
		Type:      "shot",
		Timestamp: time.UnixMilli(1500),
		Fields:    map[string]any{"x": 1.5, "color": "red", "bounds": boundsFields(types.Bounds{Width: 2, Height: 3})},
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(ev.JSONData, &payload))
	assert.Equal(t, "shot", payload["type"])
	assert.Equal(t, 1.5, payload["timestamp"])

	raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))
	assert.Equal(t, "shot", st.Fields["type"].GetStringValue())
	assert.Equal(t, 1.5, st.Fields["x"].GetNumberValue())
	assert.Equal(t, 3.0, st.Fields["bounds"].GetStructValue().Fields["height"].GetNumberValue())
}

func TestEventBroadcasterDropsForSlowClients(t *testing.T) {
	eb := NewEventBroadcaster(1, nil)
	id, ch := eb.Subscribe()
	eb.Publish(Event{Type: "a"})
	eb.Publish(Event{Type: "b"})
	assert.Equal(t, uint64(1), eb.Dropped())
	assert.Len(t, ch, 1)

	eb.Unsubscribe(id)
	eb.Unsubscribe(id)
	_, open := <-ch
	assert.True(t, open, "buffered event is still delivered")
	_, open = <-ch
	assert.False(t, open)
}

func TestFrameBroadcasterRendersLatestFrame(t *testing.T) {
	m, _ := newTestMonitor(t)
	fb := m.Frames()
	id, ch := fb.Subscribe()
	assert.Equal(t, 1, fb.ClientCount())

	fb.tick()
	assert.Empty(t, ch, "nothing published yet")

	img := image.NewRGBA(image.Rect(0, 0, 1280, 960))
	m.AddShot(types.NewShot(types.ShotRed, 100, 100, time.Now()))
	m.AddDiagnosticMessage("Too bright", color.White)
	m.UpdateBackground(&types.Frame{Image: img}, nil)
	fb.tick()

	data := <-ch
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(640, 480), decoded.Bounds().Size())

	fb.tick()
	assert.Empty(t, ch, "same frame is not rendered twice")

	fb.Unsubscribe(id)
	assert.Zero(t, fb.ClientCount())
}

func TestFrameBroadcasterStopDisconnectsClients(t *testing.T) {
	fb := NewFrameBroadcaster(time.Millisecond, func(*image.RGBA) []byte { return []byte{1} }, nil)
	id, ch := fb.Subscribe()
	fb.Start()
	fb.Stop()
	fb.Stop()

	_, open := <-ch
	assert.False(t, open)
	fb.Unsubscribe(id)
}

func TestRenderPreviewKeepsSmallFrames(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	data, err := renderPreview(img, 640, 80, overlay{
		shots:       []types.Shot{{Color: types.ShotInfrared, X: 5, Y: 5}},
		diagnostics: []diagnosticText{{text: "hello"}},
		banner:      "cam  30.0 fps",
	})
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(320, 240), decoded.Bounds().Size())
}

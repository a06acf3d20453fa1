package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

type fakeOffers struct {
	got []byte
	err error
}

func (f *fakeOffers) HandleOffer(offer []byte) ([]byte, error) {
	f.got = offer
	if f.err != nil {
		return nil, f.err
	}
	return []byte(`{"type":"answer","sdp":"v=0"}`), nil
}

type testServer struct {
	*httptest.Server
	monitor *Monitor
	camera  *fakeCamera
	offers  *fakeOffers
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m, cam := newTestMonitor(t)
	offers := &fakeOffers{}
	srv, err := NewServer(m, ServerOptions{Offers: offers, Metrics: metrics.New().Handler()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, monitor: m, camera: cam, offers: offers}
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp, decodeBody(t, resp.Body)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&payload))
	return payload
}

// readSSEEvent returns the next SSE block, comments included.
func readSSEEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var buf strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return buf.String()
		}
		buf.WriteString(line)
	}
}

func TestIndexAndArenaPages(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "/stream")

	resp, _ = ts.get(t, "/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.get(t, "/arena")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/arena/background.png")
}

func TestArenaBackgroundImage(t *testing.T) {
	ts := newTestServer(t)

	decode := func() image.Image {
		resp, body := ts.get(t, "/arena/background.png")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		img, err := png.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		return img
	}

	blank := decode()
	assert.Equal(t, image.Pt(200, 150), blank.Bounds().Size())
	r, g, b, _ := blank.At(100, 75).RGBA()
	assert.Zero(t, r+g+b)

	ts.monitor.SetArenaBackground(ArenaPattern)
	pattern := decode()
	assert.Equal(t, image.Pt(200, 150), pattern.Bounds().Size())
	r, g, b, _ = pattern.At(0, 0).RGBA()
	assert.NotZero(t, r+g+b, "pattern has a light border")

	ts.monitor.SetArenaBackground("../../etc/passwd")
	missing := decode()
	r, g, b, _ = missing.At(100, 75).RGBA()
	assert.Zero(t, r+g+b, "unknown backgrounds fall back to blank")
}

func TestStatusAndHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.monitor.AddShot(types.NewShot(types.ShotRed, 1, 2, time.UnixMilli(5)))

	resp, body := ts.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "fake0", st.Camera.Name)
	assert.Equal(t, uint64(42), st.Camera.FrameCount)
	require.Len(t, st.Shots, 1)
	assert.Equal(t, "red", st.Shots[0].Color)
	assert.Equal(t, false, st.Recording["recording"])

	resp, body = ts.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "camera_frames_read_total")
}

func TestCalibrationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, payload := ts.post(t, "/api/calibration/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["calculate_delay"])
	assert.True(t, ts.camera.IsAutoCalibrating())
	assert.Equal(t, ArenaPattern, ts.monitor.Arena())

	resp, _ = ts.post(t, "/api/calibration/start", `{"calculate_delay":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ts.camera.measuresDelay())

	resp, _ = ts.post(t, "/api/calibration/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, ts.camera.IsAutoCalibrating())

	resp, _ = ts.post(t, "/api/calibration/bounds", `{"min_x":5,"min_y":6,"width":0,"height":10}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload = ts.post(t, "/api/calibration/bounds", `{"min_x":5,"min_y":6,"width":100,"height":80}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "calibrated", payload["status"])
	b, ok := ts.camera.ProjectionBounds()
	require.True(t, ok)
	assert.Equal(t, types.Bounds{MinX: 5, MinY: 6, Width: 100, Height: 80}, b)
	assert.True(t, ts.monitor.Status().Calibration.Manual)

	resp, err := http.Get(ts.URL + "/api/calibration/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDetectionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/detection", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, payload := ts.post(t, "/api/detection", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["enabled"])
	assert.True(t, ts.camera.IsDetecting())

	ts.camera.SetCalibrating(true)
	_, payload = ts.post(t, "/api/detection", `{"enabled":true}`)
	assert.Equal(t, false, payload["enabled"], "calibration keeps detection off")
}

func TestShotEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/shots", `{"color":"green","x":0.25,"y":0.5,"scaled":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = ts.post(t, "/api/shots", `{"x":10,"y":20}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	shots := ts.camera.injectedShots()
	require.Len(t, shots, 2)
	assert.Equal(t, injected{color: types.ShotGreen, x: 0.25, y: 0.5, scaled: true}, shots[0])
	assert.Equal(t, types.ShotRed, shots[1].color)

	resp, _ = ts.post(t, "/api/shots", `{"color":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.post(t, "/api/shots", `{"x":2,"y":0.5,"scaled":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.post(t, "/api/shots", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.monitor.AddShot(types.NewShot(types.ShotRed, 1, 1, time.Now()))
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/shots", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, ts.monitor.Status().Shots)
}

func TestRecordingLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/recording/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, payload := ts.post(t, "/api/recording/start", `{"filename":"../session.mjpeg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, filepath.Join(ts.monitor.cfg.RecordingDir, "session.mjpeg"), payload["file"])
	assert.Equal(t, payload["file"], ts.camera.recordingPath())

	resp, _ = ts.post(t, "/api/recording/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, body := ts.get(t, "/api/recording/status")
	assert.Contains(t, string(body), `"recording":true`)

	resp, payload = ts.post(t, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", payload["status"])
	assert.False(t, ts.camera.IsRecordingStream())
}

func TestWebRTCOffer(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/api/webrtc/offer", `{"sdp":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, ts.offers.got)

	resp, payload := ts.post(t, "/api/webrtc/offer", `{"type":"offer","sdp":"v=0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "answer", payload["type"])
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(ts.offers.got))

	ts.offers.err = errors.New("maximum clients reached")
	resp, payload = ts.post(t, "/api/webrtc/offer", `{"type":"offer","sdp":"v=0"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "maximum clients reached", payload["error"])
}

func TestWebRTCDisabled(t *testing.T) {
	m, _ := newTestMonitor(t)
	srv, err := NewServer(m, ServerOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStream(t *testing.T) {
	for _, tc := range []struct {
		name, accept, format string
	}{
		{"json", "text/event-stream", "application/json"},
		{"protobuf", "application/x-protobuf", "application/protobuf"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
			require.NoError(t, err)
			req.Header.Set("Accept", tc.accept)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
			assert.Equal(t, tc.format, resp.Header.Get("X-Content-Format"))

			r := bufio.NewReader(resp.Body)
			assert.Equal(t, ": connected\n", readSSEEvent(t, r))

			ts.monitor.AddShot(types.NewShot(types.ShotGreen, 3, 4, time.Now()))
			event := readSSEEvent(t, r)
			require.True(t, strings.HasPrefix(event, "data: "))
			data := strings.TrimSpace(strings.TrimPrefix(event, "data: "))
			if tc.name == "json" {
				var payload map[string]any
				require.NoError(t, json.Unmarshal([]byte(data), &payload))
				assert.Equal(t, "shot", payload["type"])
				assert.Equal(t, "green", payload["color"])
			} else {
				assert.NotContains(t, data, "{")
			}
		})
	}
}

func TestMJPEGStream(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	assert.Contains(t, contentType, "multipart/x-mixed-replace")
	assert.Contains(t, contentType, "boundary=frame")

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	assert.Equal(t, 1, ts.monitor.Frames().ClientCount())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.cfg.Addr = "127.0.0.1:0"
	srv, err := NewServer(m, ServerOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

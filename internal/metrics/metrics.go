package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Frame pipeline counters
	FramesRead        atomic.Uint64
	NullFrames        atomic.Uint64
	FramesProcessed   atomic.Uint64
	CalibrationFrames atomic.Uint64

	// Shots
	ShotsDetected atomic.Uint64
	ShotsInjected atomic.Uint64

	// Calibration state
	Calibrated   atomic.Uint64 // 0 = uncalibrated, 1 = calibrated
	FrameDelayMs atomic.Int64  // -1 when not measured

	// Recording
	StreamFramesEncoded atomic.Uint64
	StreamEncodeErrors  atomic.Uint64
	ClipsActive         atomic.Int64
	ClipsWritten        atomic.Uint64

	// Operator feedback
	DiagnosticsShown atomic.Uint64

	// Clients
	EventClients  atomic.Int64
	StreamClients atomic.Int64
	WebRTCClients atomic.Int64

	ProcessLatencyUs atomic.Uint64

	fpsBits atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.FrameDelayMs.Store(-1)

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	// Frame pipeline
	m.counter("camera_frames_read_total", "Frames pulled from the capture device", &m.FramesRead)
	m.counter("camera_null_frames_total", "Empty frames returned by an open device", &m.NullFrames)
	m.counter("camera_frames_processed_total", "Frames run through the pipeline", &m.FramesProcessed)
	m.counter("camera_calibration_frames_total", "Frames handed to the calibration engine", &m.CalibrationFrames)
	m.gauge("camera_fps", "Smoothed capture frame rate",
		func() float64 { return m.FPS() })
	m.gauge("camera_process_latency_microseconds", "Last per-frame processing time",
		func() float64 { return float64(m.ProcessLatencyUs.Load()) })

	// Shots
	m.counter("camera_shots_detected_total", "Shots reported by the detector", &m.ShotsDetected)
	m.counter("camera_shots_injected_total", "Shots injected through the API", &m.ShotsInjected)

	// Calibration
	m.gauge("camera_calibrated", "Calibration state (0=uncalibrated, 1=calibrated)",
		func() float64 { return float64(m.Calibrated.Load()) })
	m.gauge("camera_frame_delay_milliseconds", "Measured display-to-capture delay, -1 when unmeasured",
		func() float64 { return float64(m.FrameDelayMs.Load()) })

	// Recording
	m.counter("camera_stream_frames_encoded_total", "Frames written to the stream recording", &m.StreamFramesEncoded)
	m.counter("camera_stream_encode_errors_total", "Stream recording encode failures", &m.StreamEncodeErrors)
	m.gauge("camera_clips_active", "Shot clips currently being recorded",
		func() float64 { return float64(m.ClipsActive.Load()) })
	m.counter("camera_clips_written_total", "Shot clips finalized", &m.ClipsWritten)

	m.counter("camera_diagnostics_shown_total", "Diagnostic warnings raised", &m.DiagnosticsShown)

	// Clients
	m.gauge("camera_event_clients", "Connected SSE event clients",
		func() float64 { return float64(m.EventClients.Load()) })
	m.gauge("camera_stream_clients", "Connected MJPEG clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("camera_webrtc_clients", "Connected WebRTC peers",
		func() float64 { return float64(m.WebRTCClients.Load()) })
}

// SetFPS stores the current frame rate estimate.
func (m *Metrics) SetFPS(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
}

// FPS returns the last stored frame rate estimate.
func (m *Metrics) FPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

// UpdateProcessLatency records how long the last frame took to process
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyUs.Store(uint64(d.Microseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

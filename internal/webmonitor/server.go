package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const maxBodySize = 1 << 20

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// ServerOptions holds optional collaborators of the HTTP server.
type ServerOptions struct {
	Offers  OfferHandler
	Metrics http.Handler
}

// Server serves the monitor page, the arena page and the control API.
type Server struct {
	cfg      Config
	monitor  *Monitor
	recorder *recordingState
	arena    *arenaHandler
	offers   OfferHandler
	metrics  http.Handler
}

// NewServer returns a server for monitor.
func NewServer(monitor *Monitor, opts ServerOptions) (*Server, error) {
	arena, err := newArenaHandler(monitor)
	if err != nil {
		return nil, fmt.Errorf("render arena pattern: %w", err)
	}
	return &Server{
		cfg:      monitor.cfg,
		monitor:  monitor,
		recorder: newRecordingState(monitor.cfg.RecordingDir),
		arena:    arena,
		offers:   opts.Offers,
		metrics:  opts.Metrics,
	}, nil
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/arena", s.handleArena)
	mux.Handle("/arena/background.png", s.arena)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/calibration/start", s.handleCalibrationStart)
	mux.HandleFunc("/api/calibration/stop", s.handleCalibrationStop)
	mux.HandleFunc("/api/calibration/bounds", s.handleCalibrationBounds)
	mux.HandleFunc("/api/arena/background", s.handleArenaBackground)
	mux.HandleFunc("/api/detection", s.handleDetection)
	mux.HandleFunc("/api/shots", s.handleShots)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(module, "Listening on http://%s", ln.Addr())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleArena(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(arenaHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.monitor.Frames().Subscribe()
	defer s.monitor.Frames().Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.Events().Subscribe()
	defer s.monitor.Events().Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	writeJSON(w, map[string]any{
		"status":    "ok",
		"streaming": st.Camera.Streaming,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Status()
	st.Recording = s.recorder.Status()
	writeJSON(w, st)
}

type calibrationStartRequest struct {
	CalculateDelay *bool `json:"calculate_delay"`
}

func (s *Server) handleCalibrationStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req calibrationStartRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	calculate := s.cfg.CalculateFrameDelay
	if req.CalculateDelay != nil {
		calculate = *req.CalculateDelay
	}
	if err := s.monitor.StartCalibration(calculate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "calibrating", "calculate_delay": calculate})
}

func (s *Server) handleCalibrationStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.monitor.StopCalibration(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "stopped"})
}

func (s *Server) handleCalibrationBounds(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var b types.Bounds
	if !decodeJSON(w, r, &b) {
		return
	}
	if b.IsZero() || b.MinX < 0 || b.MinY < 0 {
		writeJSONWithStatus(w, map[string]any{"error": "bounds must have a non-negative origin and positive size"}, http.StatusBadRequest)
		return
	}
	if _, err := s.monitor.attached(); err != nil {
		writeError(w, err)
		return
	}
	s.monitor.Calibrate(b, nil, true)
	writeJSON(w, map[string]any{"status": "calibrated", "bounds": b})
}

type arenaBackgroundRequest struct {
	Resource string `json:"resource"`
}

func (s *Server) handleArenaBackground(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req arenaBackgroundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.monitor.SetBackground(req.Resource)
	writeJSON(w, map[string]any{"background": req.Resource})
}

type detectionRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req detectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeJSONWithStatus(w, map[string]any{"error": "enabled is required"}, http.StatusBadRequest)
		return
	}
	if err := s.monitor.SetDetecting(*req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"enabled": s.monitor.Status().Camera.Detecting})
}

type shotRequest struct {
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Scaled bool    `json:"scaled"`
}

func (s *Server) handleShots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"shots": s.monitor.Status().Shots})
	case http.MethodDelete:
		s.monitor.ClearShots()
		writeJSON(w, map[string]any{"status": "cleared"})
	case http.MethodPost:
		var req shotRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Color == "" {
			req.Color = types.ShotRed.String()
		}
		c, ok := types.ParseShotColor(req.Color)
		if !ok {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown shot color %q", req.Color)}, http.StatusBadRequest)
			return
		}
		if req.Scaled && (req.X < 0 || req.X > 1 || req.Y < 0 || req.Y > 1) {
			writeJSONWithStatus(w, map[string]any{"error": "scaled coordinates must be within [0, 1]"}, http.StatusBadRequest)
			return
		}
		if err := s.monitor.InjectShot(c, req.X, req.Y, req.Scaled); err != nil {
			writeError(w, err)
			return
		}
		writeJSONWithStatus(w, map[string]any{"status": "queued"}, http.StatusAccepted)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type recordingRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req recordingRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	cam, err := s.monitor.attached()
	if err != nil {
		writeError(w, err)
		return
	}

	filename, err := s.recorder.Start(cam, req.Filename)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	cam, err := s.monitor.attached()
	if err != nil {
		writeError(w, err)
		return
	}

	filename, err := s.recorder.Stop(cam)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.offers == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.offers.HandleOffer(body)
	if err != nil {
		logger.Warn(module, "WebRTC offer: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body: " + err.Error()}, http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body: " + err.Error()}, http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrNoCamera):
		status = http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrAlreadyRecording), errors.Is(err, camera.ErrNotRecording):
		status = http.StatusConflict
	case errors.Is(err, camera.ErrNoRecorder):
		status = http.StatusNotImplemented
	}
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

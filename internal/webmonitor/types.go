package webmonitor

import (
	"fmt"
	"image/color"

	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

// ShotEvent is the JSON shape of a shot in events and status payloads.
type ShotEvent struct {
	ID        string  `json:"id"`
	Color     string  `json:"color"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
	Injected  bool    `json:"injected"`
}

func newShotEvent(s types.Shot) ShotEvent {
	return ShotEvent{
		ID:        s.ID.String(),
		Color:     s.Color.String(),
		X:         s.X,
		Y:         s.Y,
		Timestamp: s.Timestamp,
		Injected:  s.Injected,
	}
}

func (s ShotEvent) fields() map[string]any {
	return map[string]any{
		"id":        s.ID,
		"color":     s.Color,
		"x":         s.X,
		"y":         s.Y,
		"timestamp": s.Timestamp,
		"injected":  s.Injected,
	}
}

// DiagnosticEntry is a message currently shown over the feed.
type DiagnosticEntry struct {
	ID    uint64 `json:"id"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// ErrorEntry is an operator-facing camera error.
type ErrorEntry struct {
	Kind      string  `json:"kind"`
	Camera    string  `json:"camera"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// CameraStatus mirrors the pipeline state.
type CameraStatus struct {
	Name       string  `json:"name"`
	Streaming  bool    `json:"streaming"`
	FPS        float64 `json:"fps"`
	FrameCount uint64  `json:"frame_count"`
	Detecting  bool    `json:"detecting"`
	Recording  bool    `json:"recording"`
}

// CalibrationStatus is the last calibration outcome and the current state.
type CalibrationStatus struct {
	Calibrating     bool             `json:"calibrating"`
	AutoCalibrating bool             `json:"auto_calibrating"`
	Calibrated      bool             `json:"calibrated"`
	Manual          bool             `json:"manual"`
	Bounds          *types.Bounds    `json:"bounds"`
	Paper           *types.Dimension `json:"paper"`
	FrameDelayMs    *int64           `json:"frame_delay_ms"`
}

// Status is the /api/status payload.
type Status struct {
	Camera      CameraStatus      `json:"camera"`
	Calibration CalibrationStatus `json:"calibration"`
	Arena       string            `json:"arena"`
	Shots       []ShotEvent       `json:"shots"`
	Diagnostics []DiagnosticEntry `json:"diagnostics"`
	Errors      []ErrorEntry      `json:"errors"`
	Recording   map[string]any    `json:"recording"`
	Timestamp   float64           `json:"timestamp"`
}

func boundsFields(b types.Bounds) map[string]any {
	return map[string]any{
		"min_x":  b.MinX,
		"min_y":  b.MinY,
		"width":  b.Width,
		"height": b.Height,
	}
}

func hexColor(c color.Color) string {
	if c == nil {
		return "#ffffff"
	}
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

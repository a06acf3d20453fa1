package camera

import (
	"image"
	"image/color"

	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

// SizeUnavailable is returned in both coordinates by DeviceSource.Open when
// the device exists but cannot be opened.
const SizeUnavailable = -1

// DeviceSource is a pollable capture device.
type DeviceSource interface {
	Name() string
	IsOpen() bool
	// Open requests size and returns the size actually delivered.
	Open(size image.Point) image.Point
	// IsImageNew reports whether a frame arrived since the last GetFrame.
	IsImageNew() bool
	// GetFrame returns nil when no frame could be produced.
	GetFrame() *image.RGBA
	Close() error
}

// ShotDetector finds laser hits in frames.
type ShotDetector interface {
	SetFrameSize(size image.Point)
	// ProcessFrame returns any shots found. Detection is performed only
	// when detecting is true, but the detector may still update its
	// background model.
	ProcessFrame(f *types.Frame, detecting bool) []types.Shot
	// AddShot queues a synthetic shot for the next ProcessFrame.
	AddShot(c types.ShotColor, x, y float64, scaled bool)
	Reset()
}

// DiagnosticHandle identifies a message shown on a View.
type DiagnosticHandle uint64

// View shows the feed and overlays to the operator.
type View interface {
	// UpdateBackground receives the displayed frame. bounds is non-nil
	// when the frame was cropped to the projection area.
	UpdateBackground(f *types.Frame, bounds *types.Bounds)
	AddShot(s types.Shot)
	AddDiagnosticMessage(text string, c color.Color) DiagnosticHandle
	RemoveDiagnosticMessage(h DiagnosticHandle)
}

// ErrorView surfaces conditions the operator has to act on.
type ErrorView interface {
	ShowCameraLockError(camera string, multiCamera bool)
	ShowMissingCameraError(camera string)
	ShowFPSWarning(camera string, fps float64)
	ShowBrightnessWarning(camera string)
}

// CalibrationListener receives calibration results.
type CalibrationListener interface {
	Calibrate(bounds types.Bounds, paper *types.Dimension, manualOverride bool)
	SetArenaBackground(resource string)
}

// StreamRecorder encodes a continuous video stream.
type StreamRecorder interface {
	Start(path string, width, height int) error
	// Encode writes f at timestampUs relative to the start of recording.
	Encode(f *types.Frame, timestampUs int64, keyframe bool) error
	Close() error
}

// ClipRecorder records frames around shots. The rolling recorder handed
// to StartRecordingShots forks one clip per shot.
type ClipRecorder interface {
	Fork(s types.Shot) ClipRecorder
	RecordFrame(f *types.Frame)
	IsComplete() bool
	Close() error
}

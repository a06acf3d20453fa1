package config

import (
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
	"github.com/TheWiseOptimist/ShootOFF/internal/detect"
)

const (
	defaultCameraKind     = "webcam"
	defaultShmName        = "/shootoff_camera"
	defaultWidth          = 640
	defaultHeight         = 480
	defaultFPS            = 30
	defaultPollIntervalMS = 1
	defaultSectorRows     = 3
	defaultSectorCols     = 3
	defaultRecordingDir   = "~/.local/share/shootoff/recordings"
	defaultJPEGQuality    = 85
	defaultClipPreFrames  = 15
	defaultClipPostFrames = 30
	defaultDiagnosticMS   = 1000
	defaultListen         = "127.0.0.1:8080"
	defaultMJPEGFPS       = 15
	defaultPreviewWidth   = 640
	defaultEventBuffer    = 64
	defaultLogLevel       = "info"
	defaultLogColor       = "auto"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	cal := calibration.DefaultConfig()
	return Config{
		Camera: Camera{
			Kind:           defaultCameraKind,
			ShmName:        defaultShmName,
			Width:          defaultWidth,
			Height:         defaultHeight,
			FPS:            defaultFPS,
			PollIntervalMS: defaultPollIntervalMS,
		},
		Calibration: Calibration{
			CalculateFrameDelay: true,
			CropFeed:            true,
			PatternCols:         cal.PatternCols,
			PatternRows:         cal.PatternRows,
			BorderFactor:        cal.BorderFactor,
			PaperMarginWidth:    cal.PaperMarginWidth,
			PaperMarginHeight:   cal.PaperMarginHeight,
			PaperMaxFraction:    cal.PaperMaxFraction,
			SecondaryAttempts:   cal.SecondaryAttempts,
			DelayWindowMS:       int(cal.DelayWindow / time.Millisecond),
			DelayThreshold:      cal.DelayThreshold,
			CornerSearchDivisor: cal.CornerSearchDivisor,
		},
		Detection: Detection{
			SectorRows: defaultSectorRows,
			SectorCols: defaultSectorCols,
			Thresholds: detect.DefaultConfig(),
		},
		Recording: Recording{
			Dir:            defaultRecordingDir,
			JPEGQuality:    defaultJPEGQuality,
			ClipPreFrames:  defaultClipPreFrames,
			ClipPostFrames: defaultClipPostFrames,
			DiagnosticMS:   defaultDiagnosticMS,
		},
		Web: Web{
			Listen:       defaultListen,
			MJPEGFPS:     defaultMJPEGFPS,
			PreviewWidth: defaultPreviewWidth,
			EventBuffer:  defaultEventBuffer,
			WebRTC:       true,
			STUNServers:  []string{"stun:stun.l.google.com:19302"},
		},
		Logging: Logging{
			Level: defaultLogLevel,
			Color: defaultLogColor,
		},
	}
}

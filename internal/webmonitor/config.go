package webmonitor

import (
	"image"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr          string
	MJPEGInterval time.Duration
	PreviewWidth  int
	JPEGQuality   int
	EventBuffer   int
	HistorySize   int
	RecordingDir  string
	BackgroundDir string

	// Measure the projector frame delay when calibration starts.
	CalculateFrameDelay bool

	// Calibration board shown on the arena while calibrating.
	PatternCols  int
	PatternRows  int
	BorderFactor float64
	ArenaSize    image.Point
}

// DefaultConfig returns a config matching the default camera settings.
func DefaultConfig() Config {
	cal := calibration.DefaultConfig()
	return Config{
		Addr:          "127.0.0.1:8080",
		MJPEGInterval: time.Second / 15,
		PreviewWidth:  640,
		JPEGQuality:   75,
		EventBuffer:   64,
		HistorySize:   50,
		RecordingDir:  "./recordings",
		PatternCols:   cal.PatternCols,
		PatternRows:   cal.PatternRows,
		BorderFactor:  cal.BorderFactor,
		ArenaSize:     image.Pt(1280, 720),

		CalculateFrameDelay: true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = def.MJPEGInterval
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.PatternCols <= 0 || c.PatternRows <= 0 {
		c.PatternCols, c.PatternRows, c.BorderFactor = def.PatternCols, def.PatternRows, def.BorderFactor
	}
	if c.ArenaSize.X <= 0 || c.ArenaSize.Y <= 0 {
		c.ArenaSize = def.ArenaSize
	}
	return c
}

package config

import (
	"errors"
	"fmt"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateCalibration(); err != nil {
		return err
	}
	if err := c.validateDetection(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateWeb(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCamera() error {
	switch c.Camera.Kind {
	case "webcam":
		if c.Camera.Index < 0 {
			return errors.New("camera.index must be non-negative")
		}
	case "shm":
		if c.Camera.ShmName == "" {
			return errors.New("camera.shm_name is required for shm cameras")
		}
	case "replay":
		if c.Camera.ReplayDir == "" {
			return errors.New("camera.replay_dir is required for replay cameras")
		}
	default:
		return fmt.Errorf("camera.kind %q is not one of webcam, shm, replay", c.Camera.Kind)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return errors.New("camera.width and camera.height must be positive")
	}
	if c.Camera.FPS < 0 {
		return errors.New("camera.fps must be non-negative")
	}
	if c.Camera.PollIntervalMS <= 0 {
		return errors.New("camera.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateCalibration() error {
	s := c.Calibration
	if s.PatternCols < 3 || s.PatternRows < 3 {
		return errors.New("calibration.pattern_cols and calibration.pattern_rows must be at least 3")
	}
	if s.BorderFactor < 0 {
		return errors.New("calibration.border_factor must be non-negative")
	}
	if s.PaperMarginWidth < 1 || s.PaperMarginHeight < 1 {
		return errors.New("calibration paper margins must be at least 1")
	}
	if s.PaperMaxFraction <= 0 || s.PaperMaxFraction > 1 {
		return errors.New("calibration.paper_max_fraction must be in (0, 1]")
	}
	if s.SecondaryAttempts < 0 {
		return errors.New("calibration.secondary_attempts must be non-negative")
	}
	if s.DelayWindowMS <= 0 {
		return errors.New("calibration.delay_window_ms must be positive")
	}
	if s.DelayThreshold <= 0 || s.DelayThreshold >= 1 {
		return errors.New("calibration.delay_threshold must be in (0, 1)")
	}
	if s.CornerSearchDivisor <= 0 {
		return errors.New("calibration.corner_search_divisor must be positive")
	}
	return nil
}

func (c *Config) validateDetection() error {
	d := c.Detection
	if d.SectorRows <= 0 || d.SectorCols <= 0 {
		return errors.New("detection.sector_rows and detection.sector_cols must be positive")
	}
	t := d.Thresholds
	if t.MinBlobArea <= 0 || t.MaxBlobArea < t.MinBlobArea {
		return errors.New("detection.thresholds blob area limits are invalid")
	}
	if t.MotionFraction <= 0 || t.MotionFraction > 1 {
		return errors.New("detection.thresholds.motion_fraction must be in (0, 1]")
	}
	if t.BackgroundAlpha <= 0 || t.BackgroundAlpha > 1 {
		return errors.New("detection.thresholds.background_alpha must be in (0, 1]")
	}
	if t.SuppressFrames < 0 {
		return errors.New("detection.thresholds.suppress_frames must be non-negative")
	}
	return nil
}

func (c *Config) validateRecording() error {
	r := c.Recording
	if r.Dir == "" && (r.RecordShots || r.CalibratedArea) {
		return errors.New("recording.dir is required when recording is enabled")
	}
	if r.JPEGQuality < 1 || r.JPEGQuality > 100 {
		return errors.New("recording.jpeg_quality must be between 1 and 100")
	}
	if r.ClipPreFrames < 0 {
		return errors.New("recording.clip_pre_frames must be non-negative")
	}
	if r.ClipPostFrames < 1 {
		return errors.New("recording.clip_post_frames must be at least 1")
	}
	if r.DiagnosticMS <= 0 {
		return errors.New("recording.diagnostic_ms must be positive")
	}
	return nil
}

func (c *Config) validateWeb() error {
	w := c.Web
	if w.Listen == "" {
		return errors.New("web.listen is required")
	}
	if w.MJPEGFPS <= 0 {
		return errors.New("web.mjpeg_fps must be positive")
	}
	if w.PreviewWidth < 0 {
		return errors.New("web.preview_width must be non-negative")
	}
	if w.EventBuffer <= 0 {
		return errors.New("web.event_buffer must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Color {
	case "auto", "always", "never":
		return nil
	default:
		return fmt.Errorf("logging.color %q is not one of auto, always, never", c.Logging.Color)
	}
}

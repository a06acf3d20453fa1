package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/TheWiseOptimist/ShootOFF/internal/calibration"
	"github.com/TheWiseOptimist/ShootOFF/internal/detect"
)

//go:embed sample_config.toml
var sampleConfig string

// Camera selects and sizes the frame source.
type Camera struct {
	Kind           string  `toml:"kind"`
	Index          int     `toml:"index"`
	ShmName        string  `toml:"shm_name"`
	ReplayDir      string  `toml:"replay_dir"`
	ReplayLoop     bool    `toml:"replay_loop"`
	Width          int     `toml:"width"`
	Height         int     `toml:"height"`
	FPS            float64 `toml:"fps"`
	PollIntervalMS int     `toml:"poll_interval_ms"`
}

// Calibration configures the arena auto-calibration engine.
type Calibration struct {
	AutoStart           bool    `toml:"auto_start"`
	CalculateFrameDelay bool    `toml:"calculate_frame_delay"`
	CropFeed            bool    `toml:"crop_feed"`
	LimitDetection      bool    `toml:"limit_detection"`
	PatternCols         int     `toml:"pattern_cols"`
	PatternRows         int     `toml:"pattern_rows"`
	BorderFactor        float64 `toml:"border_factor"`
	PaperMarginWidth    float64 `toml:"paper_margin_width"`
	PaperMarginHeight   float64 `toml:"paper_margin_height"`
	PaperMaxFraction    float64 `toml:"paper_max_fraction"`
	SecondaryAttempts   int     `toml:"secondary_attempts"`
	DelayWindowMS       int     `toml:"delay_window_ms"`
	DelayThreshold      float64 `toml:"delay_threshold"`
	CornerSearchDivisor int     `toml:"corner_search_divisor"`
}

// Detection holds the sector grid and detector thresholds.
type Detection struct {
	SectorRows int           `toml:"sector_rows"`
	SectorCols int           `toml:"sector_cols"`
	Thresholds detect.Config `toml:"thresholds"`
}

// Recording configures stream, calibrated-area and shot clip output.
type Recording struct {
	Dir            string `toml:"dir"`
	JPEGQuality    int    `toml:"jpeg_quality"`
	ClipPreFrames  int    `toml:"clip_pre_frames"`
	ClipPostFrames int    `toml:"clip_post_frames"`
	RecordShots    bool   `toml:"record_shots"`
	CalibratedArea bool   `toml:"calibrated_area"`
	DiagnosticMS   int    `toml:"diagnostic_ms"`
}

// Web configures the monitor HTTP server.
type Web struct {
	Listen       string   `toml:"listen"`
	MJPEGFPS     int      `toml:"mjpeg_fps"`
	PreviewWidth int      `toml:"preview_width"`
	EventBuffer  int      `toml:"event_buffer"`
	WebRTC       bool     `toml:"webrtc"`
	STUNServers  []string `toml:"stun_servers"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `toml:"level"`
	Color string `toml:"color"`
}

// Config is the full service configuration.
type Config struct {
	Camera      Camera      `toml:"camera"`
	Calibration Calibration `toml:"calibration"`
	Detection   Detection   `toml:"detection"`
	Recording   Recording   `toml:"recording"`
	Web         Web         `toml:"web"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shootoff/camera.toml")
}

// Load reads path, or the first default location that exists, over the
// defaults. It returns the resolved path and whether a file was read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("shootoff.toml")
	if err != nil {
		return "", false, fmt.Errorf("resolve project config: %w", err)
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	cleaned := filepath.Clean(pathValue)
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return abs, nil
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the annotated sample configuration.
func SampleConfig() string { return sampleConfig }

// PollInterval is the wait after a cycle with no new frame.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Camera.PollIntervalMS) * time.Millisecond
}

// FeedSize is the requested capture size.
func (c *Config) FeedSize() (int, int) {
	return c.Camera.Width, c.Camera.Height
}

// DiagnosticDuration is how long a diagnostic message stays on screen.
func (c *Config) DiagnosticDuration() time.Duration {
	return time.Duration(c.Recording.DiagnosticMS) * time.Millisecond
}

// CalibrationConfig converts the calibration section for the engine.
func (c *Config) CalibrationConfig() calibration.Config {
	s := c.Calibration
	return calibration.Config{
		PatternCols:         s.PatternCols,
		PatternRows:         s.PatternRows,
		BorderFactor:        s.BorderFactor,
		PaperMarginWidth:    s.PaperMarginWidth,
		PaperMarginHeight:   s.PaperMarginHeight,
		PaperMaxFraction:    s.PaperMaxFraction,
		SecondaryAttempts:   s.SecondaryAttempts,
		DelayWindow:         time.Duration(s.DelayWindowMS) * time.Millisecond,
		DelayThreshold:      s.DelayThreshold,
		CornerSearchDivisor: s.CornerSearchDivisor,
	}
}

// CalibratedAreaPath is the calibrated-area recording file, or empty when
// that recording is disabled.
func (c *Config) CalibratedAreaPath() string {
	if !c.Recording.CalibratedArea {
		return ""
	}
	return filepath.Join(c.Recording.Dir, "calibrated_area.mjpeg")
}

// ClipDir is where shot clips are written.
func (c *Config) ClipDir() string {
	return filepath.Join(c.Recording.Dir, "shots")
}

package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/TheWiseOptimist/ShootOFF/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camera.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "shootoff", "camera.toml"); resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "shootoff", "recordings"); cfg.Recording.Dir != want {
		t.Fatalf("unexpected recording dir: got %q want %q", cfg.Recording.Dir, want)
	}
	if cfg.Camera.Kind != "webcam" {
		t.Fatalf("unexpected camera kind %q", cfg.Camera.Kind)
	}
	if cfg.PollInterval() != time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval())
	}
	if cfg.CalibratedAreaPath() != "" {
		t.Fatal("calibrated area recording should be off by default")
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
[camera]
kind = " Replay "
replay_dir = "/tmp/frames"
width = 1280
height = 720

[calibration]
delay_window_ms = 500

[detection.thresholds]
min_blob_area = 3
max_blob_area = 50

[recording]
dir = "/tmp/rec"
calibrated_area = true

[logging]
level = "DEBUG"
color = ""
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %q to be read, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Camera.Kind != "replay" {
		t.Fatalf("camera kind not normalized: %q", cfg.Camera.Kind)
	}
	if w, h := cfg.FeedSize(); w != 1280 || h != 720 {
		t.Fatalf("unexpected feed size %dx%d", w, h)
	}
	if got := cfg.CalibrationConfig().DelayWindow; got != 500*time.Millisecond {
		t.Fatalf("unexpected delay window %v", got)
	}
	if got := cfg.CalibrationConfig().PatternCols; got != 9 {
		t.Fatalf("pattern default lost: %d", got)
	}
	if cfg.Detection.Thresholds.MaxBlobArea != 50 || cfg.Detection.Thresholds.BrightThreshold != 230 {
		t.Fatalf("unexpected thresholds %+v", cfg.Detection.Thresholds)
	}
	if cfg.CalibratedAreaPath() != filepath.Join("/tmp/rec", "calibrated_area.mjpeg") {
		t.Fatalf("unexpected calibrated area path %q", cfg.CalibratedAreaPath())
	}
	if cfg.ClipDir() != filepath.Join("/tmp/rec", "shots") {
		t.Fatalf("unexpected clip dir %q", cfg.ClipDir())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Color != "auto" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"kind":      "[camera]\nkind = \"firewire\"\n",
		"replay":    "[camera]\nkind = \"replay\"\n",
		"size":      "[camera]\nwidth = 0\n",
		"pattern":   "[calibration]\npattern_rows = 2\n",
		"threshold": "[calibration]\ndelay_threshold = 1.5\n",
		"sectors":   "[detection]\nsector_cols = 0\n",
		"quality":   "[recording]\njpeg_quality = 101\n",
		"clip":      "[recording]\nclip_post_frames = 0\n",
		"listen":    "[web]\nlisten = \"  \"\n",
		"level":     "[logging]\nlevel = \"loud\"\n",
		"color":     "[logging]\ncolor = \"sometimes\"\n",
		"unknown":   "[camera]\nlens = \"wide\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, _, err := config.Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	_, _, _, err := config.Load(writeConfig(t, "[camera\n"))
	if err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	cfg := config.Default()
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if !reflect.DeepEqual(cfg, config.Default()) {
		t.Fatalf("sample config drifted from defaults:\n got %+v\nwant %+v", cfg, config.Default())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "camera.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample should load cleanly: exists=%v err=%v", exists, err)
	}
	if err := config.CreateSample(path); err == nil {
		t.Fatal("expected error when sample already exists")
	}
}

package webmonitor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/TheWiseOptimist/ShootOFF/internal/vision"
)

// arenaHandler serves the image the arena page should display: the
// calibration board, a black frame when blank, or a file from the
// background directory.
type arenaHandler struct {
	monitor       *Monitor
	backgroundDir string
	size          image.Point
	pattern       []byte
	blank         []byte
}

func newArenaHandler(m *Monitor) (*arenaHandler, error) {
	cfg := m.cfg
	pattern, err := encodePNG(vision.RenderPattern(cfg.ArenaSize.X, cfg.ArenaSize.Y, cfg.PatternCols, cfg.PatternRows, cfg.BorderFactor))
	if err != nil {
		return nil, err
	}
	black := image.NewRGBA(image.Rectangle{Max: cfg.ArenaSize})
	draw.Draw(black, black.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	blank, err := encodePNG(black)
	if err != nil {
		return nil, err
	}
	return &arenaHandler{
		monitor:       m,
		backgroundDir: cfg.BackgroundDir,
		size:          cfg.ArenaSize,
		pattern:       pattern,
		blank:         blank,
	}, nil
}

func (h *arenaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	switch resource := h.monitor.Arena(); resource {
	case ArenaPattern:
		writePNG(w, h.pattern)
	case "":
		writePNG(w, h.blank)
	default:
		path := filepath.Join(h.backgroundDir, filepath.Base(resource))
		if h.backgroundDir == "" || !fileExists(path) {
			writePNG(w, h.blank)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

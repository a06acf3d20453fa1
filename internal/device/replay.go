package device

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/timeutil"
)

// ErrNoImages is returned when a replay directory holds no PNG or JPEG files.
var ErrNoImages = errors.New("no images to replay")

// Replay plays back a directory of still images as a camera. Files are
// played in name order at a fixed frame interval. Without Loop, the device
// closes itself after the last image.
type Replay struct {
	name     string
	files    []string
	interval time.Duration
	loop     bool
	clock    timeutil.Clock

	mu      sync.Mutex
	open    bool
	pos     int
	last    time.Time
	started bool
}

// ReplayOptions configures NewReplay.
type ReplayOptions struct {
	Interval time.Duration
	Loop     bool
	Clock    timeutil.Clock
}

// NewReplay scans dir for *.png, *.jpg and *.jpeg files.
func NewReplay(dir string, opts ReplayOptions) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoImages)
	}
	sort.Strings(files)

	if opts.Interval <= 0 {
		opts.Interval = time.Second / 30
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Replay{
		name:     "replay:" + filepath.Base(dir),
		files:    files,
		interval: opts.Interval,
		loop:     opts.Loop,
		clock:    opts.Clock,
	}, nil
}

func (r *Replay) Name() string { return r.name }

// Len returns the number of images.
func (r *Replay) Len() int { return len(r.files) }

func (r *Replay) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Open ignores the requested size and reports the size of the first image.
func (r *Replay) Open(size image.Point) image.Point {
	img, err := decodeFile(r.files[0])
	if err != nil {
		logger.Error(module, "Replay %s: %v", r.name, err)
		return image.Pt(camera.SizeUnavailable, camera.SizeUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	r.pos = 0
	r.started = false
	return img.Bounds().Size()
}

// IsImageNew reports whether the next frame is due.
func (r *Replay) IsImageNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return false
	}
	return !r.started || r.clock.Since(r.last) >= r.interval
}

// GetFrame decodes the next image. Past the last image it rewinds when
// looping and closes the device otherwise.
func (r *Replay) GetFrame() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil
	}
	if r.pos >= len(r.files) {
		if !r.loop {
			logger.Info(module, "Replay %s finished after %d frames", r.name, len(r.files))
			r.open = false
			return nil
		}
		r.pos = 0
	}

	path := r.files[r.pos]
	r.pos++
	r.last = r.clock.Now()
	r.started = true

	img, err := decodeFile(path)
	if err != nil {
		logger.Warn(module, "Replay %s: %v", r.name, err)
		return nil
	}
	return img
}

func (r *Replay) Close() error {
	r.mu.Lock()
	r.open = false
	r.mu.Unlock()
	return nil
}

func decodeFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return ToRGBA(img), nil
}

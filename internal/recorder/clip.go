package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

// Rolling keeps the last Pre frames of the feed and forks a Clip for every
// shot. A clip holds the buffered frames plus the next Post frames and is
// written to Dir when closed.
type Rolling struct {
	dir     string
	pre     int
	post    int
	quality int

	mu      sync.Mutex
	ring    []*types.Frame
	next    int
	filled  bool
	written []string
	errs    error

	wg sync.WaitGroup
}

// NewRolling creates a rolling recorder writing clips under dir.
func NewRolling(dir string, pre, post, quality int) (*Rolling, error) {
	if pre < 0 || post < 1 {
		return nil, fmt.Errorf("invalid clip window: %d frames before, %d after", pre, post)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip directory: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Rolling{
		dir:     dir,
		pre:     pre,
		post:    post,
		quality: quality,
		ring:    make([]*types.Frame, pre),
	}, nil
}

// RecordFrame adds f to the ring buffer.
func (r *Rolling) RecordFrame(f *types.Frame) {
	if r.pre == 0 {
		return
	}
	r.mu.Lock()
	r.ring[r.next] = f
	r.next = (r.next + 1) % r.pre
	if r.next == 0 {
		r.filled = true
	}
	r.mu.Unlock()
}

// IsComplete is always false; the rolling buffer runs until closed.
func (r *Rolling) IsComplete() bool { return false }

// Fork starts a clip for s seeded with the buffered frames.
func (r *Rolling) Fork(s types.Shot) camera.ClipRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	var frames []*types.Frame
	if r.filled {
		frames = append(frames, r.ring[r.next:]...)
	}
	frames = append(frames, r.ring[:r.next]...)

	return &Clip{parent: r, shot: s, frames: frames, remaining: r.post}
}

// Close waits for pending clip writes and clears the buffer.
func (r *Rolling) Close() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ring {
		r.ring[i] = nil
	}
	r.next, r.filled = 0, false
	err := r.errs
	r.errs = nil
	return err
}

// Written returns the paths of the clips written so far.
func (r *Rolling) Written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.written...)
}

func (r *Rolling) save(c *Clip) {
	defer r.wg.Done()

	path := filepath.Join(r.dir, fmt.Sprintf("shot_%d_%s.mjpeg", c.shot.Timestamp, c.shot.ID))
	err := writeClip(path, c.frames, r.quality)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		logger.Error(module, "Write clip %s: %v", path, err)
		r.errs = errors.Join(r.errs, err)
		return
	}
	r.written = append(r.written, path)
	logger.Info(module, "Wrote %d-frame clip %s", len(c.frames), path)
}

func writeClip(path string, frames []*types.Frame, quality int) error {
	out, err := createFrameWriter(path, quality)
	if err != nil {
		return err
	}
	var writeErr error
	for i, f := range frames {
		ts := (f.Timestamp - frames[0].Timestamp) * 1000
		if err := out.write(f, ts, i == 0); err != nil {
			writeErr = err
			break
		}
	}
	return errors.Join(writeErr, out.close())
}

// Clip collects frames around one shot.
type Clip struct {
	parent    *Rolling
	shot      types.Shot
	frames    []*types.Frame
	remaining int
	closed    bool
}

// Fork delegates to the rolling recorder the clip came from.
func (c *Clip) Fork(s types.Shot) camera.ClipRecorder { return c.parent.Fork(s) }

func (c *Clip) RecordFrame(f *types.Frame) {
	if c.remaining == 0 {
		return
	}
	c.frames = append(c.frames, f)
	c.remaining--
}

func (c *Clip) IsComplete() bool { return c.remaining == 0 }

// Close writes the clip in the background. Later calls are no-ops.
func (c *Clip) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if len(c.frames) == 0 {
		return nil
	}
	c.parent.wg.Add(1)
	go c.parent.save(c)
	return nil
}

// Shot returns the shot the clip was forked for.
func (c *Clip) Shot() types.Shot { return c.shot }

package recorder

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const module = "Recorder"

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

var (
	// ErrLocked is returned when another writer holds the output path.
	ErrLocked = errors.New("recording output locked by another writer")
	// ErrNotRecording is returned by Encode before Start or after Close.
	ErrNotRecording = errors.New("not recording")
)

// Recorder writes frames to a Motion JPEG file: concatenated JPEG images
// plus a CSV index ("timestamp_us,offset,size,keyframe") next to it.
type Recorder struct {
	mu            sync.RWMutex
	out           *frameWriter
	lock          *flock.Flock
	filename      string
	width         int
	height        int
	quality       int
	recording     bool
	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64
	startTime     time.Time
	frameChan     chan encodeRequest
	wg            sync.WaitGroup
}

type encodeRequest struct {
	frame       *types.Frame
	timestampUs int64
	keyframe    bool
}

// New creates a recorder. quality <= 0 selects DefaultQuality.
func New(quality int) *Recorder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Recorder{quality: quality}
}

// Start starts recording to path. A lock file next to path keeps a second
// writer from opening the same output.
func (r *Recorder) Start(path string, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording %s", r.filename)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrLocked)
	}

	out, err := createFrameWriter(path, r.quality)
	if err != nil {
		lock.Unlock()
		return err
	}

	r.out = out
	r.lock = lock
	r.filename = path
	r.width = width
	r.height = height
	r.recording = true
	r.frameCount.Store(0)
	r.droppedFrames.Store(0)
	r.startTime = time.Now()
	r.frameChan = make(chan encodeRequest, 60) // 2 seconds at 30 fps

	r.wg.Add(1)
	go r.writeFrames(r.frameChan)

	logger.Info(module, "Recording to %s (%dx%d)", path, width, height)
	return nil
}

// Encode queues f for writing. Frames are dropped when the writer falls
// behind.
func (r *Recorder) Encode(f *types.Frame, timestampUs int64, keyframe bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return ErrNotRecording
	}

	select {
	case r.frameChan <- encodeRequest{frame: f, timestampUs: timestampUs, keyframe: keyframe}:
	default:
		r.droppedFrames.Add(1)
		logger.Debug(module, "Writer behind, dropped frame %d", f.Number)
	}
	return nil
}

// writeFrames drains the channel until Close closes it.
func (r *Recorder) writeFrames(ch <-chan encodeRequest) {
	defer r.wg.Done()

	for req := range ch {
		if err := r.out.write(req.frame, req.timestampUs, req.keyframe); err != nil {
			logger.Warn(module, "Write frame %d: %v", req.frame.Number, err)
			continue
		}
		r.frameCount.Add(1)
	}
}

// Close stops recording, flushes the queued frames and releases the lock.
// Closing an idle recorder is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = false
	close(r.frameChan)
	r.mu.Unlock()

	// Wait for write goroutine to finish
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.out.close()
	r.out = nil
	if e := r.lock.Unlock(); e != nil {
		err = errors.Join(err, fmt.Errorf("unlock: %w", e))
	}
	os.Remove(r.lock.Path())
	r.lock = nil

	logger.Info(module, "Recorded %d frames to %s (%d dropped)", r.frameCount.Load(), r.filename, r.droppedFrames.Load())
	return err
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:     r.recording,
		Filename:      r.filename,
		Width:         r.width,
		Height:        r.height,
		FrameCount:    r.frameCount.Load(),
		DroppedFrames: r.droppedFrames.Load(),
		Duration:      duration,
		StartTime:     r.startTime,
	}
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool          `json:"recording"`
	Filename      string        `json:"filename"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	FrameCount    uint64        `json:"frame_count"`
	DroppedFrames uint64        `json:"dropped_frames"`
	Duration      time.Duration `json:"duration_ms"`
	StartTime     time.Time     `json:"start_time"`
}

// frameWriter appends JPEG frames and index lines. It is not safe for
// concurrent use.
type frameWriter struct {
	file    *os.File
	index   *os.File
	indexW  *bufio.Writer
	offset  int64
	quality int
	buf     bytes.Buffer
}

func createFrameWriter(path string, quality int) (*frameWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	index, err := os.Create(path + ".idx")
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &frameWriter{file: file, index: index, indexW: bufio.NewWriter(index), quality: quality}, nil
}

func (w *frameWriter) write(f *types.Frame, timestampUs int64, keyframe bool) error {
	w.buf.Reset()
	if err := jpeg.Encode(&w.buf, f.Image, &jpeg.Options{Quality: w.quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	n, err := w.file.Write(w.buf.Bytes())
	if err != nil {
		return err
	}
	fmt.Fprintf(w.indexW, "%d,%d,%d,%t\n", timestampUs, w.offset, n, keyframe)
	w.offset += int64(n)
	return nil
}

func (w *frameWriter) close() error {
	var err error
	if e := w.indexW.Flush(); e != nil {
		err = errors.Join(err, e)
	}
	if e := w.index.Close(); e != nil {
		err = errors.Join(err, e)
	}
	if e := w.file.Sync(); e != nil {
		err = errors.Join(err, fmt.Errorf("failed to sync file: %w", e))
	}
	if e := w.file.Close(); e != nil {
		err = errors.Join(err, fmt.Errorf("failed to close file: %w", e))
	}
	return err
}

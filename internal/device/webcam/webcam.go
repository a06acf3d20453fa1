// Package webcam captures frames from a local video device through GoCV.
package webcam

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/TheWiseOptimist/ShootOFF/internal/camera"
	"github.com/TheWiseOptimist/ShootOFF/internal/device"
	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
)

// maxReadFailures consecutive failed reads mark the device as gone.
const maxReadFailures = 30

// Webcam is a camera.DeviceSource reading from a V4L2/DirectShow device.
// A reader goroutine keeps the latest frame; GetFrame hands it out once.
type Webcam struct {
	index int
	fps   float64

	mu      sync.Mutex
	capture *gocv.VideoCapture
	latest  *image.RGBA
	fresh   bool
	open    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a webcam for the device index. fps <= 0 leaves the driver
// default.
func New(index int, fps float64) *Webcam {
	return &Webcam{index: index, fps: fps}
}

func (w *Webcam) Name() string { return fmt.Sprintf("webcam%d", w.index) }

func (w *Webcam) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Open requests size from the driver and returns what it settled on.
func (w *Webcam) Open(size image.Point) image.Point {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.open {
		return w.sizeLocked()
	}

	capture, err := gocv.OpenVideoCapture(w.index)
	if err != nil {
		logger.Error("Device", "Open %s: %v", w.Name(), err)
		return image.Pt(camera.SizeUnavailable, camera.SizeUnavailable)
	}
	if !capture.IsOpened() {
		capture.Close()
		logger.Error("Device", "%s is busy", w.Name())
		return image.Pt(camera.SizeUnavailable, camera.SizeUnavailable)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(size.X))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(size.Y))
	if w.fps > 0 {
		capture.Set(gocv.VideoCaptureFPS, w.fps)
	}

	w.capture = capture
	w.open = true
	w.latest = nil
	w.fresh = false
	w.stop = make(chan struct{})

	w.wg.Add(1)
	go w.readLoop(capture, w.stop)

	actual := w.sizeLocked()
	logger.Info("Device", "Opened %s at %s", w.Name(), actual)
	return actual
}

func (w *Webcam) sizeLocked() image.Point {
	return image.Pt(
		int(w.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(w.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
}

func (w *Webcam) readLoop(capture *gocv.VideoCapture, stop <-chan struct{}) {
	defer w.wg.Done()

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		if ok := capture.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures >= maxReadFailures {
				logger.Error("Device", "%s stopped delivering frames", w.Name())
				w.mu.Lock()
				w.open = false
				w.fresh = true
				w.latest = nil
				w.mu.Unlock()
				return
			}
			continue
		}
		failures = 0

		img, err := mat.ToImage()
		if err != nil {
			logger.Warn("Device", "%s: convert frame: %v", w.Name(), err)
			continue
		}
		rgba := device.ToRGBA(img)

		w.mu.Lock()
		w.latest = rgba
		w.fresh = true
		w.mu.Unlock()
	}
}

func (w *Webcam) IsImageNew() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fresh
}

// GetFrame returns the latest frame, or nil once the device has failed.
func (w *Webcam) GetFrame() *image.RGBA {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fresh = false
	img := w.latest
	w.latest = nil
	return img
}

// Close stops the reader goroutine and releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	capture := w.capture
	stop := w.stop
	w.capture = nil
	w.stop = nil
	w.open = false
	w.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	w.wg.Wait()
	return capture.Close()
}

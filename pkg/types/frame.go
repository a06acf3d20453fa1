package types

import (
	"image"
	"time"
)

// Frame is a single camera image with its capture time.
// Frames are never mutated after capture; Crop and the undistort
// transform produce new Frames.
type Frame struct {
	Image     *image.RGBA
	Timestamp int64  // Milliseconds on the pipeline clock
	Number    uint64 // Sequential frame number
}

// NewFrame wraps img captured at t.
func NewFrame(img *image.RGBA, t time.Time, number uint64) *Frame {
	return &Frame{Image: img, Timestamp: t.UnixMilli(), Number: number}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Crop returns a frame limited to b, clipped to the image. The pixel
// buffer is shared and the returned image origin is reset to (0,0).
func (f *Frame) Crop(b Bounds) *Frame {
	r := b.Rect().Add(f.Image.Bounds().Min).Intersect(f.Image.Bounds())
	if r.Empty() {
		return f
	}
	sub := f.Image.SubImage(r).(*image.RGBA)
	return &Frame{
		Image: &image.RGBA{
			Pix:    sub.Pix,
			Stride: sub.Stride,
			Rect:   image.Rect(0, 0, r.Dx(), r.Dy()),
		},
		Timestamp: f.Timestamp,
		Number:    f.Number,
	}
}

// WithImage returns a copy of f carrying img instead of the original pixels.
func (f *Frame) WithImage(img *image.RGBA) *Frame {
	return &Frame{Image: img, Timestamp: f.Timestamp, Number: f.Number}
}

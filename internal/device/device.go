// Package device provides capture sources for the camera pipeline.
//
// Sources implement camera.DeviceSource. Each GetFrame call returns a
// freshly allocated image so the pipeline can hold on to frames without
// copying.
package device

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const module = "Device"

// ToRGBA returns img as *image.RGBA with its origin at (0,0), converting
// when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize scales img to size with bilinear interpolation. Images already at
// size are returned unchanged.
func Resize(img *image.RGBA, size image.Point) *image.RGBA {
	if img.Bounds().Size() == size {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// NV12ToRGBA converts a semi-planar YUV 4:2:0 buffer to RGBA.
func NV12ToRGBA(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("nv12: invalid size %dx%d", width, height)
	}
	ySize := width * height
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("nv12: %d bytes, need %d", len(data), ySize+ySize/2)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	uv := data[ySize:]
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		uvRow := uv[(y/2)*width:]
		for x := 0; x < width; x++ {
			cb := uvRow[x&^1]
			cr := uvRow[x|1]
			r, g, b := color.YCbCrToRGB(data[y*width+x], cb, cr)
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = r, g, b, 0xff
		}
	}
	return dst, nil
}

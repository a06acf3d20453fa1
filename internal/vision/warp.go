package vision

import (
	"image"
	"math"

	"github.com/TheWiseOptimist/ShootOFF/internal/geometry"
)

// WarpPerspective maps src through h into a new width x height image.
// Each destination pixel samples the source bilinearly at the inverse
// mapped location; samples outside the source are black.
func WarpPerspective(src *image.RGBA, h geometry.Homography, width, height int) (*image.RGBA, error) {
	inv, err := h.Inverse()
	if err != nil {
		return nil, err
	}
	m := inv.Matrix()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < height; y++ {
		fy := float64(y)
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			fx := float64(x)
			w := m[6]*fx + m[7]*fy + m[8]
			if w == 0 {
				continue
			}
			sx := (m[0]*fx + m[1]*fy + m[2]) / w
			sy := (m[3]*fx + m[4]*fy + m[5]) / w

			o := out[4*x : 4*x+4]
			o[3] = 0xff
			if sx < 0 || sy < 0 || sx > float64(sw-1) || sy > float64(sh-1) {
				continue
			}
			bilinear(src, sx, sy, o)
		}
	}
	return dst, nil
}

func bilinear(src *image.RGBA, x, y float64, out []uint8) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	maxX, maxY := src.Bounds().Dx()-1, src.Bounds().Dy()-1
	if x1 > maxX {
		x1 = maxX
	}
	if y1 > maxY {
		y1 = maxY
	}
	ax, ay := x-float64(x0), y-float64(y0)

	p00 := src.Pix[y0*src.Stride+4*x0:]
	p10 := src.Pix[y0*src.Stride+4*x1:]
	p01 := src.Pix[y1*src.Stride+4*x0:]
	p11 := src.Pix[y1*src.Stride+4*x1:]
	for c := 0; c < 3; c++ {
		top := float64(p00[c])*(1-ax) + float64(p10[c])*ax
		bot := float64(p01[c])*(1-ax) + float64(p11[c])*ax
		out[c] = uint8(top*(1-ay) + bot*ay + 0.5)
	}
}

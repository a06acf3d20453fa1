// Package vision implements the image operations used by calibration:
// grayscale conversion, histogram equalization, checkerboard detection,
// Harris corner search, polygon masking and perspective warping.
//
// All functions expect images whose bounds start at (0,0).
package vision

import "image"

// Gray converts an RGBA image to 8-bit luma (BT.601 weights).
func Gray(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := uint32(row[4*x]), uint32(row[4*x+1]), uint32(row[4*x+2])
			out[x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
		}
	}
	return dst
}

// EqualizeHist spreads the intensity histogram of src over 0..255.
func EqualizeHist(src *image.Gray) *image.Gray {
	var hist [256]int
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		for _, v := range src.Pix[y*src.Stride : y*src.Stride+w] {
			hist[v]++
		}
	}

	total := w * h
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if total == 0 {
		return dst
	}

	cdfMin, cdf := 0, 0
	for _, n := range hist {
		if n > 0 {
			cdfMin = n
			break
		}
	}
	var lut [256]uint8
	if total == cdfMin {
		// Flat image: keep values.
		for i := range lut {
			lut[i] = uint8(i)
		}
	} else {
		scale := 255.0 / float64(total-cdfMin)
		for i, n := range hist {
			cdf += n
			v := float64(cdf-cdfMin) * scale
			if v < 0 {
				v = 0
			}
			lut[i] = uint8(v + 0.5)
		}
	}

	for y := 0; y < h; y++ {
		in := src.Pix[y*src.Stride : y*src.Stride+w]
		out := dst.Pix[y*dst.Stride:]
		for x, v := range in {
			out[x] = lut[v]
		}
	}
	return dst
}

// Normalize is the calibration preprocessing step: luma followed by
// histogram equalization.
func Normalize(src *image.RGBA) *image.Gray {
	return EqualizeHist(Gray(src))
}

// ValueAt returns the HSV value (max of R, G, B) at (x, y), 0..255.
// Out-of-range coordinates return 0.
func ValueAt(img *image.RGBA, x, y int) float64 {
	if !(image.Point{x, y}).In(img.Bounds()) {
		return 0
	}
	c := img.RGBAAt(x, y)
	return float64(max(c.R, c.G, c.B))
}

// CloneGray returns a deep copy of g.
func CloneGray(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	copy(out.Pix, g.Pix)
	return out
}

package webmonitor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/TheWiseOptimist/ShootOFF/pkg/types"
)

const (
	shotRadius  = 6
	lineHeight  = 16
	textPadding = 4
)

var (
	shotColors = map[types.ShotColor]color.RGBA{
		types.ShotRed:      {R: 255, G: 40, B: 40, A: 255},
		types.ShotGreen:    {R: 40, G: 255, B: 40, A: 255},
		types.ShotInfrared: {R: 255, G: 0, B: 255, A: 255},
	}
	textBackground = color.RGBA{A: 180}
)

// overlay is what gets drawn over a preview frame.
type overlay struct {
	shots       []types.Shot
	diagnostics []diagnosticText
	banner      string
}

type diagnosticText struct {
	text  string
	color color.Color
}

// renderPreview scales img to width (when smaller than the frame), draws
// the overlay and encodes the result as JPEG.
func renderPreview(img *image.RGBA, width, quality int, ov overlay) ([]byte, error) {
	src := img.Bounds()
	scale := 1.0
	dstSize := src.Size()
	if width > 0 && src.Dx() > width {
		scale = float64(width) / float64(src.Dx())
		dstSize = image.Pt(width, int(float64(src.Dy())*scale+0.5))
	}

	dst := image.NewRGBA(image.Rectangle{Max: dstSize})
	if scale == 1 {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	for _, s := range ov.shots {
		c, ok := shotColors[s.Color]
		if !ok {
			c = shotColors[types.ShotRed]
		}
		drawRing(dst, int(s.X*scale+0.5), int(s.Y*scale+0.5), shotRadius, c)
	}

	y := textPadding
	if ov.banner != "" {
		drawLabel(dst, textPadding, y, ov.banner, color.White)
		y += lineHeight
	}
	for _, d := range ov.diagnostics {
		drawLabel(dst, textPadding, y, d.text, d.color)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawRing draws a two-pixel circle outline plus a center dot.
func drawRing(dst *image.RGBA, cx, cy, r int, c color.RGBA) {
	outer, inner := r*r, (r-2)*(r-2)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := dx*dx + dy*dy
			if (d <= outer && d >= inner) || d <= 1 {
				p := image.Pt(cx+dx, cy+dy)
				if p.In(dst.Rect) {
					dst.SetRGBA(p.X, p.Y, c)
				}
			}
		}
	}
}

// drawLabel writes text with its top-left corner at (x, y) on a dark box.
func drawLabel(dst *image.RGBA, x, y int, text string, c color.Color) {
	if c == nil {
		c = color.White
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	w := d.MeasureString(text).Ceil()

	box := image.Rect(x-2, y, x+w+2, y+lineHeight-1)
	draw.Draw(dst, box, image.NewUniform(textBackground), image.Point{}, draw.Over)

	d.Dot = fixed.P(x, y+face.Ascent+1)
	d.DrawString(text)
}

// blankJPEG is sent to preview clients before the first frame arrives.
func blankJPEG(size image.Point, message string) ([]byte, error) {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 32, G: 32, B: 32, A: 255}), image.Point{}, draw.Src)

	w := font.MeasureString(basicfont.Face7x13, message).Ceil()
	drawLabel(img, (size.X-w)/2, size.Y/2-lineHeight/2, message, color.White)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

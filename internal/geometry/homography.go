package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingular is returned when the point correspondences do not define
// a perspective transform.
var ErrSingular = errors.New("geometry: degenerate point configuration")

// Homography is a 3x3 projective transform. The zero value is invalid.
type Homography struct {
	m *mat.Dense
}

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{m: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})}
}

// NewHomography builds a transform from a row-major 3x3 matrix.
func NewHomography(rowMajor [9]float64) Homography {
	return Homography{m: mat.NewDense(3, 3, rowMajor[:])}
}

// PerspectiveTransform solves for the homography that maps each src
// point onto the matching dst point (h33 fixed to 1).
func PerspectiveTransform(src, dst [4]Point) (Homography, error) {
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	var rm [9]float64
	for i := 0; i < 8; i++ {
		rm[i] = h.AtVec(i)
	}
	rm[8] = 1
	return NewHomography(rm), nil
}

// Valid reports whether h holds a matrix.
func (h Homography) Valid() bool {
	return h.m != nil
}

// Apply maps p through the transform.
func (h Homography) Apply(p Point) Point {
	m := h.m
	w := m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)
	if w == 0 {
		return Point{}
	}
	return Point{
		X: (m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)) / w,
		Y: (m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)) / w,
	}
}

// Inverse returns the transform mapping dst space back to src space.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.m); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return Homography{m: &inv}, nil
}

// Matrix returns the row-major coefficients.
func (h Homography) Matrix() [9]float64 {
	var out [9]float64
	if h.m == nil {
		return out
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = h.m.At(r, c)
		}
	}
	return out
}

// Package homography maps image pixels onto the top-down badminton court
// template and back.
package homography

import (
	"courtcam/apperr"
	"fmt"
	"gonum.org/v1/gonum/mat"
	"math"
)

// minSeparation is the smallest distance in pixels, between two
// correspondence points and between a point and the line through two others.
const minSeparation = 1.0

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Transform is a 3x3 projective matrix acting on homogeneous column vectors.
type Transform struct {
	H [3][3]float64
}

// Project applies t to p. Points mapped to infinity come back as NaN.
func (t Transform) Project(p Point) Point {
	h := t.H
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return Point{X: math.NaN(), Y: math.NaN()}
	}
	return Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}
}

func (t Transform) Inverse() (Transform, error) {
	var inv mat.Dense
	if err := inv.Inverse(dense(t.H)); err != nil {
		return Transform{}, fmt.Errorf("invert transform: %w", apperr.ErrDegenerateConfiguration)
	}
	return normalized(&inv), nil
}

// Compute returns the transform taking the four image points, in the order
// top-left baseline, top-right baseline, bottom-left service line, bottom-right
// service line, onto the court template.
func Compute(src [4]Point) (Transform, error) {
	return Between(src, CourtCorners)
}

// Between solves the exact homography taking each src[i] to dst[i].
func Between(src, dst [4]Point) (Transform, error) {
	if err := checkConfiguration(src); err != nil {
		return Transform{}, err
	}
	if err := checkConfiguration(dst); err != nil {
		return Transform{}, err
	}

	sn, sx, sy := similarity(src)
	dn, dx, dy := similarity(dst)

	// h22 fixed to 1; two rows per correspondence
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := (src[i].X-sx)*sn, (src[i].Y-sy)*sn
		u, v := (dst[i].X-dx)*dn, (dst[i].Y-dy)*dn
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Transform{}, fmt.Errorf("solve homography: %w", apperr.ErrDegenerateConfiguration)
	}
	hn := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	})

	// undo the normalisation: H = Tdst⁻¹ · Hn · Tsrc
	tsrc := mat.NewDense(3, 3, []float64{sn, 0, -sn * sx, 0, sn, -sn * sy, 0, 0, 1})
	tdstInv := mat.NewDense(3, 3, []float64{1 / dn, 0, dx, 0, 1 / dn, dy, 0, 0, 1})
	var full mat.Dense
	full.Product(tdstInv, hn, tsrc)

	t := normalized(&full)
	for _, row := range t.H {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Transform{}, apperr.ErrDegenerateConfiguration
			}
		}
	}
	return t, nil
}

// similarity returns the scale and centroid that move pts to mean zero and
// mean distance sqrt(2).
func similarity(pts [4]Point) (scale, cx, cy float64) {
	for _, p := range pts {
		cx += p.X / 4
		cy += p.Y / 4
	}
	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy) / 4
	}
	return math.Sqrt2 / mean, cx, cy
}

func checkConfiguration(pts [4]Point) error {
	for i := 0; i < 4; i++ {
		if !pts[i].Valid() {
			return fmt.Errorf("point %d is not finite: %w", i, apperr.ErrDegenerateConfiguration)
		}
		for j := i + 1; j < 4; j++ {
			if pts[i].dist(pts[j]) < minSeparation {
				return fmt.Errorf("points %d and %d coincide: %w", i, j, apperr.ErrDegenerateConfiguration)
			}
		}
	}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				if collinear(pts[i], pts[j], pts[k]) {
					return fmt.Errorf("points %d, %d and %d are collinear: %w", i, j, k, apperr.ErrDegenerateConfiguration)
				}
			}
		}
	}
	return nil
}

// collinear reports whether one of the three points lies within minSeparation
// of the line through the other two.
func collinear(a, b, c Point) bool {
	area2 := math.Abs((b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X))
	longest := math.Max(a.dist(b), math.Max(a.dist(c), b.dist(c)))
	return area2/longest < minSeparation
}

func dense(m [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

func normalized(m mat.Matrix) Transform {
	var t Transform
	s := m.At(2, 2)
	if math.Abs(s) < 1e-12 {
		s = 1
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.H[i][j] = m.At(i, j) / s
		}
	}
	return t
}

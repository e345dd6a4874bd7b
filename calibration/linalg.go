package calibration

import (
	"courtcam/fisheye"
	"errors"
	"gonum.org/v1/gonum/mat"
	"math"
)

type mat3 [3][3]float64

func (a mat3) mul(b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func (a mat3) col(j int) [3]float64 {
	return [3]float64{a[0][j], a[1][j], a[2][j]}
}

func (a mat3) dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a[0][0], a[0][1], a[0][2],
		a[1][0], a[1][1], a[1][2],
		a[2][0], a[2][1], a[2][2],
	})
}

func fromDense(m mat.Matrix) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// hartley returns the similarity that moves pts to zero mean and mean distance sqrt(2),
// its inverse, and the transformed points.
func hartley(pts []fisheye.Point) (mat3, mat3, []fisheye.Point) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var dist float64
	for _, p := range pts {
		dist += math.Hypot(p.X-cx, p.Y-cy)
	}
	dist /= float64(len(pts))
	s := 1.0
	if dist > 0 {
		s = math.Sqrt2 / dist
	}

	out := make([]fisheye.Point, len(pts))
	for i, p := range pts {
		out[i] = fisheye.Point{X: (p.X - cx) * s, Y: (p.Y - cy) * s}
	}
	t := mat3{{s, 0, -s * cx}, {0, s, -s * cy}, {0, 0, 1}}
	inv := mat3{{1 / s, 0, cx}, {0, 1 / s, cy}, {0, 0, 1}}
	return t, inv, out
}

var errDegenerateView = errors.New("degenerate board view")

// planarHomography solves dst ~ H * src in the least-squares sense with the
// normalized DLT.
func planarHomography(src, dst []fisheye.Point) (mat3, error) {
	if len(src) < 4 || len(src) != len(dst) {
		return mat3{}, errDegenerateView
	}

	ts, _, sn := hartley(src)
	_, tdInv, dn := hartley(dst)

	a := mat.NewDense(2*len(sn), 9, nil)
	for i := range sn {
		x, y := sn[i].X, sn[i].Y
		u, v := dn[i].X, dn[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return mat3{}, errDegenerateView
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			hn[i][j] = v.At(3*i+j, 8)
		}
	}
	return tdInv.mul(hn).mul(ts), nil
}

// nearestRotation projects m onto SO(3).
func nearestRotation(m mat3) mat3 {
	var svd mat.SVD
	if !svd.Factorize(m.dense(), mat.SVDFull) {
		return m
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return fromDense(&r)
}

package calibration

import (
	"courtcam/fisheye"
	"errors"
	"fmt"
	"gonum.org/v1/gonum/mat"
	"math"
)

const (
	intrinsicParams = 8
	viewParams      = 6
)

var ErrNotConverged = errors.New("calibration did not converge")

type SolveOptions struct {
	MaxIterations int
	Epsilon       float64
}

func DefaultSolveOptions() SolveOptions {
	return SolveOptions{MaxIterations: 100, Epsilon: 1e-6}
}

// Result is a solved lens model. Width and Height are the frame size it was solved for.
type Result struct {
	K       fisheye.Intrinsics `json:"k"`
	D       fisheye.Distortion `json:"d"`
	RMS     float64            `json:"rms"`
	Width   int                `json:"width"`
	Height  int                `json:"height"`
	Samples int                `json:"samples"`
}

type problem struct {
	object [][3]float64
	views  [][]fisheye.Point
}

// Solve fits the fisheye intrinsics, distortion and one pose per view to the
// observed corners. Every view must contain one corner per object point.
func Solve(views [][]fisheye.Point, object [][3]float64, width, height int, opts SolveOptions) (Result, error) {
	if len(views) == 0 || len(object) < 4 {
		return Result{}, fmt.Errorf("solve: %d views of %d points: %w", len(views), len(object), errDegenerateView)
	}
	for i, v := range views {
		if len(v) != len(object) {
			return Result{}, fmt.Errorf("solve: view %d has %d corners, want %d", i, len(v), len(object))
		}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultSolveOptions().MaxIterations
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultSolveOptions().Epsilon
	}

	f := math.Max(float64(width), float64(height)) / math.Pi
	k := fisheye.Intrinsics{Fx: f, Fy: f, Cx: float64(width)/2 - 0.5, Cy: float64(height)/2 - 0.5}

	params := make([]float64, intrinsicParams+viewParams*len(views))
	params[0], params[1], params[2], params[3] = k.Fx, k.Fy, k.Cx, k.Cy
	for i, v := range views {
		rvec, tvec, err := initExtrinsics(object, v, k, fisheye.Distortion{})
		if err != nil {
			return Result{}, fmt.Errorf("solve: view %d: %w", i, err)
		}
		off := intrinsicParams + i*viewParams
		copy(params[off:off+3], rvec[:])
		copy(params[off+3:off+6], tvec[:])
	}

	pr := &problem{object: object, views: views}
	cost := pr.levenbergMarquardt(params, opts)

	k, d := unpack(params)
	rms := math.Sqrt(cost / float64(len(views)*len(object)))
	if math.IsNaN(rms) || math.IsInf(rms, 0) || k.Fx <= 0 || k.Fy <= 0 {
		return Result{}, ErrNotConverged
	}

	return Result{K: k, D: d, RMS: rms, Width: width, Height: height, Samples: len(views)}, nil
}

func initExtrinsics(object [][3]float64, corners []fisheye.Point, k fisheye.Intrinsics, d fisheye.Distortion) ([3]float64, [3]float64, error) {
	src := make([]fisheye.Point, len(object))
	dst := make([]fisheye.Point, len(corners))
	for i := range object {
		src[i] = fisheye.Point{X: object[i][0], Y: object[i][1]}
		dst[i] = fisheye.Undistort(corners[i], k, d)
	}

	h, err := planarHomography(src, dst)
	if err != nil {
		return [3]float64{}, [3]float64{}, err
	}

	h1, h2, h3 := h.col(0), h.col(1), h.col(2)
	scale := 2 / (norm3(h1) + norm3(h2))
	if h3[2]*scale < 0 {
		scale = -scale
	}
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return [3]float64{}, [3]float64{}, errDegenerateView
	}

	var r1, r2, t [3]float64
	for i := 0; i < 3; i++ {
		r1[i] = h1[i] * scale
		r2[i] = h2[i] * scale
		t[i] = h3[i] * scale
	}
	r3 := cross(r1, r2)

	var r mat3
	for i := 0; i < 3; i++ {
		r[i][0], r[i][1], r[i][2] = r1[i], r2[i], r3[i]
	}
	return fisheye.RotationVector(nearestRotation(r)), t, nil
}

func unpack(p []float64) (fisheye.Intrinsics, fisheye.Distortion) {
	return fisheye.Intrinsics{Fx: p[0], Fy: p[1], Cx: p[2], Cy: p[3]},
		fisheye.Distortion{p[4], p[5], p[6], p[7]}
}

func (pr *problem) viewResiduals(p []float64, v int, out []float64) {
	k, d := unpack(p)
	off := intrinsicParams + v*viewParams
	rvec := [3]float64{p[off], p[off+1], p[off+2]}
	tvec := [3]float64{p[off+3], p[off+4], p[off+5]}
	for j, obj := range pr.object {
		proj := fisheye.Project(obj, rvec, tvec, k, d)
		out[2*j] = proj.X - pr.views[v][j].X
		out[2*j+1] = proj.Y - pr.views[v][j].Y
	}
}

func (pr *problem) residuals(p []float64, out []float64) {
	n := 2 * len(pr.object)
	for v := range pr.views {
		pr.viewResiduals(p, v, out[v*n:(v+1)*n])
	}
}

// jacobian fills jac by forward differences. A pose parameter only moves the
// residuals of its own view, so those columns are evaluated per view.
func (pr *problem) jacobian(p, r []float64, jac *mat.Dense) {
	jac.Zero()
	n := 2 * len(pr.object)

	all := make([]float64, len(r))
	for i := 0; i < intrinsicParams; i++ {
		h := diffStep(p[i])
		saved := p[i]
		p[i] += h
		pr.residuals(p, all)
		p[i] = saved
		for row := range r {
			jac.Set(row, i, (all[row]-r[row])/h)
		}
	}

	part := make([]float64, n)
	for v := range pr.views {
		base := intrinsicParams + v*viewParams
		for i := base; i < base+viewParams; i++ {
			h := diffStep(p[i])
			saved := p[i]
			p[i] += h
			pr.viewResiduals(p, v, part)
			p[i] = saved
			for j := 0; j < n; j++ {
				row := v*n + j
				jac.Set(row, i, (part[j]-r[row])/h)
			}
		}
	}
}

func diffStep(x float64) float64 {
	return 1e-6 * math.Max(1, math.Abs(x))
}

func sumSquares(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}
	return s
}

// levenbergMarquardt refines p in place and returns the final sum of squared residuals.
func (pr *problem) levenbergMarquardt(p []float64, opts SolveOptions) float64 {
	m := 2 * len(pr.object) * len(pr.views)
	n := len(p)

	r := make([]float64, m)
	pr.residuals(p, r)
	cost := sumSquares(r)

	jac := mat.NewDense(m, n, nil)
	var jtj mat.Dense
	grad := mat.NewVecDense(n, nil)
	trial := make([]float64, n)
	trialR := make([]float64, m)

	lambda := 1e-3
	fresh := true
	for iter := 0; iter < opts.MaxIterations && cost > 0; iter++ {
		if fresh {
			pr.jacobian(p, r, jac)
			jtj.Mul(jac.T(), jac)
			grad.MulVec(jac.T(), mat.NewVecDense(m, r))
			fresh = false
		}

		a := mat.DenseCopyOf(&jtj)
		for i := 0; i < n; i++ {
			a.Set(i, i, a.At(i, i)*(1+lambda)+1e-12)
		}

		var delta mat.VecDense
		if err := delta.SolveVec(a, grad); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				lambda *= 10
				continue
			}
		}

		for i := range p {
			trial[i] = p[i] - delta.AtVec(i)
		}
		pr.residuals(trial, trialR)
		trialCost := sumSquares(trialR)

		if trialCost < cost && !math.IsNaN(trialCost) {
			improvement := (cost - trialCost) / cost
			copy(p, trial)
			copy(r, trialR)
			cost = trialCost
			lambda = math.Max(lambda/10, 1e-12)
			fresh = true

			// Tiny gains under heavy damping are not convergence.
			if improvement < opts.Epsilon && lambda < 1 {
				break
			}
			continue
		}

		lambda *= 10
		if lambda > 1e12 {
			break
		}
	}
	return cost
}

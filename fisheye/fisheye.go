// Package fisheye implements the equidistant fisheye lens model used by the
// calibration solver and the undistortion maps. Conventions follow the
// OpenCV fisheye module so artifacts stay interchangeable.
package fisheye

import "math"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Intrinsics is a pinhole camera matrix without skew.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

func (k Intrinsics) Matrix() [3][3]float64 {
	return [3][3]float64{
		{k.Fx, 0, k.Cx},
		{0, k.Fy, k.Cy},
		{0, 0, 1},
	}
}

func IntrinsicsFromMatrix(m [3][3]float64) Intrinsics {
	return Intrinsics{Fx: m[0][0], Fy: m[1][1], Cx: m[0][2], Cy: m[1][2]}
}

// Distortion holds k1..k4 of the fisheye polynomial theta_d = theta(1 + k1θ² + k2θ⁴ + k3θ⁶ + k4θ⁸).
type Distortion [4]float64

func (d Distortion) thetaD(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t4 * t4
	return theta * (1 + d[0]*t2 + d[1]*t4 + d[2]*t6 + d[3]*t8)
}

// Distort maps a normalized pinhole point (x/z, y/z) to pixel coordinates.
func Distort(p Point, k Intrinsics, d Distortion) Point {
	r := math.Hypot(p.X, p.Y)
	scale := 1.0
	if r > 1e-8 {
		scale = d.thetaD(math.Atan(r)) / r
	}
	return Point{
		X: k.Fx*p.X*scale + k.Cx,
		Y: k.Fy*p.Y*scale + k.Cy,
	}
}

// Undistort maps a pixel back to normalized pinhole coordinates by Newton
// iteration on the distortion polynomial.
func Undistort(p Point, k Intrinsics, d Distortion) Point {
	pw := Point{X: (p.X - k.Cx) / k.Fx, Y: (p.Y - k.Cy) / k.Fy}
	thetaD := math.Min(math.Hypot(pw.X, pw.Y), math.Pi/2)
	if thetaD <= 1e-8 {
		return pw
	}

	theta := thetaD
	for i := 0; i < 10; i++ {
		t2 := theta * theta
		t4 := t2 * t2
		t6 := t4 * t2
		t8 := t4 * t4
		fix := (d.thetaD(theta) - thetaD) /
			(1 + 3*d[0]*t2 + 5*d[1]*t4 + 7*d[2]*t6 + 9*d[3]*t8)
		theta -= fix
		if math.Abs(fix) < 1e-10 {
			break
		}
	}

	scale := math.Tan(theta) / thetaD
	return Point{X: pw.X * scale, Y: pw.Y * scale}
}

// Project maps a point in board coordinates through the pose (rvec, tvec) and the lens.
func Project(obj [3]float64, rvec, tvec [3]float64, k Intrinsics, d Distortion) Point {
	r := Rodrigues(rvec)
	var c [3]float64
	for i := 0; i < 3; i++ {
		c[i] = r[i][0]*obj[0] + r[i][1]*obj[1] + r[i][2]*obj[2] + tvec[i]
	}
	return Distort(Point{X: c[0] / c[2], Y: c[1] / c[2]}, k, d)
}

// EstimateNewIntrinsics picks the camera matrix of the rectified image.
// balance 0 crops to valid pixels only, 1 keeps the whole source field of view.
func EstimateNewIntrinsics(k Intrinsics, d Distortion, width, height int, balance float64) Intrinsics {
	w, h := float64(width), float64(height)
	edges := []Point{{X: w / 2, Y: 0}, {X: w, Y: h / 2}, {X: w / 2, Y: h}, {X: 0, Y: h / 2}}

	aspect := k.Fx / k.Fy
	var cn Point
	undist := make([]Point, len(edges))
	for i, e := range edges {
		u := Undistort(e, k, d)
		u.Y *= aspect
		undist[i] = u
		cn.X += u.X / float64(len(edges))
		cn.Y += u.Y / float64(len(edges))
	}

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, u := range undist {
		minX, maxX = math.Min(minX, u.X), math.Max(maxX, u.X)
		minY, maxY = math.Min(minY, u.Y), math.Max(maxY, u.Y)
	}

	f1 := w * 0.5 / (cn.X - minX)
	f2 := w * 0.5 / (maxX - cn.X)
	f3 := h * 0.5 * aspect / (cn.Y - minY)
	f4 := h * 0.5 * aspect / (maxY - cn.Y)
	fMin := math.Min(math.Min(f1, f2), math.Min(f3, f4))
	fMax := math.Max(math.Max(f1, f2), math.Max(f3, f4))

	balance = math.Min(math.Max(balance, 0), 1)
	f := balance*fMin + (1-balance)*fMax

	return Intrinsics{
		Fx: f,
		Fy: f / aspect,
		Cx: -cn.X*f + w*0.5,
		Cy: (-cn.Y*f + h*0.5*aspect) / aspect,
	}
}

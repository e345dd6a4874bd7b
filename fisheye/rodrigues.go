package fisheye

import "math"

// Rodrigues converts an axis-angle rotation vector into a rotation matrix.
func Rodrigues(r [3]float64) [3][3]float64 {
	theta := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if theta < 1e-12 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}

	kx, ky, kz := r[0]/theta, r[1]/theta, r[2]/theta
	s, c := math.Sincos(theta)
	v := 1 - c

	return [3][3]float64{
		{c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s},
		{ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s},
		{kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v},
	}
}

// RotationVector is the inverse of Rodrigues for a proper rotation matrix.
func RotationVector(m [3][3]float64) [3]float64 {
	cos := (m[0][0] + m[1][1] + m[2][2] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)

	if theta < 1e-10 {
		return [3]float64{
			(m[2][1] - m[1][2]) / 2,
			(m[0][2] - m[2][0]) / 2,
			(m[1][0] - m[0][1]) / 2,
		}
	}

	if math.Pi-theta < 1e-6 {
		// sin(theta) vanishes near pi, recover the axis from the symmetric part.
		var axis [3]float64
		for i := 0; i < 3; i++ {
			axis[i] = math.Sqrt(math.Max(0, (m[i][i]+1)/2))
		}
		switch {
		case axis[0] >= axis[1] && axis[0] >= axis[2]:
			axis[1] = math.Copysign(axis[1], m[0][1]+m[1][0])
			axis[2] = math.Copysign(axis[2], m[0][2]+m[2][0])
		case axis[1] >= axis[2]:
			axis[0] = math.Copysign(axis[0], m[0][1]+m[1][0])
			axis[2] = math.Copysign(axis[2], m[1][2]+m[2][1])
		default:
			axis[0] = math.Copysign(axis[0], m[0][2]+m[2][0])
			axis[1] = math.Copysign(axis[1], m[1][2]+m[2][1])
		}
		return [3]float64{axis[0] * theta, axis[1] * theta, axis[2] * theta}
	}

	f := theta / (2 * math.Sin(theta))
	return [3]float64{
		(m[2][1] - m[1][2]) * f,
		(m[0][2] - m[2][0]) * f,
		(m[1][0] - m[0][1]) * f,
	}
}

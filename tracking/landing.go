package tracking

import (
	"courtcam/apperr"
	"fmt"
	"math"
)

const (
	smoothWindow  = 7
	hitAngle      = 30.0
	hitClusterGap = 30
)

// Landing finds where the shuttle came down: the trajectory is smoothed with a
// centred rolling mean, frames whose direction turns by more than 30 degrees
// are hits, hits closer than 30 rows form a cluster, and the landing is the
// first visible hit of the last cluster.
func Landing(t Track) (Position, error) {
	n := len(t)
	xs, ys := make([]float64, n), make([]float64, n)
	for i, p := range t {
		xs[i], ys[i] = math.NaN(), math.NaN()
		if p.Visible {
			xs[i], ys[i] = p.X, p.Y
		}
	}
	sx, sy := rollingMean(xs, smoothWindow), rollingMean(ys, smoothWindow)

	var hits []int
	for i := 1; i+1 < n; i++ {
		if turn(sx[i]-sx[i-1], sy[i]-sy[i-1], sx[i+1]-sx[i], sy[i+1]-sy[i]) > hitAngle {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return Position{}, fmt.Errorf("no direction change in %d frames: %w", n, apperr.ErrDetectionFailure)
	}

	start := 0
	for i := 1; i < len(hits); i++ {
		if hits[i]-hits[i-1] > hitClusterGap {
			start = i
		}
	}
	for _, idx := range hits[start:] {
		if t[idx].Visible {
			p := t[idx]
			p.X, p.Y = math.Trunc(p.X), math.Trunc(p.Y)
			return p, nil
		}
	}
	return Position{}, fmt.Errorf("no visible frame in the last hit cluster: %w", apperr.ErrDetectionFailure)
}

// rollingMean averages the non-NaN values in a centred window; a window with
// none stays NaN.
func rollingMean(v []float64, window int) []float64 {
	out := make([]float64, len(v))
	half := window / 2
	for i := range v {
		var sum float64
		var cnt int
		for j := max(0, i-half); j <= min(len(v)-1, i+half); j++ {
			if !math.IsNaN(v[j]) {
				sum += v[j]
				cnt++
			}
		}
		out[i] = math.NaN()
		if cnt > 0 {
			out[i] = sum / float64(cnt)
		}
	}
	return out
}

// turn is the angle in degrees between two displacement vectors, NaN when
// either is unknown or zero.
func turn(ax, ay, bx, by float64) float64 {
	norm := math.Hypot(ax, ay) * math.Hypot(bx, by)
	if math.IsNaN(norm) || norm == 0 {
		return math.NaN()
	}
	c := (ax*bx + ay*by) / norm
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

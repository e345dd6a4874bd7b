// Package rally splits a shuttle track into rallies and picks the highlights.
package rally

import (
	"courtcam/tracking"
	"math"
	"sort"
)

type Options struct {
	// MaxGap is the longest run of invisible frames a rally survives.
	MaxGap int
	// MinLength drops rallies with fewer frames.
	MinLength int
}

func DefaultOptions() Options {
	return Options{MaxGap: 30, MinLength: 5}
}

// Rally spans the frames between its first and last visible position.
type Rally struct {
	Start     int     `json:"start_frame"`
	End       int     `json:"end_frame"`
	Frames    int     `json:"frames"`
	MeanSpeed float64 `json:"mean_speed"`
	Score     float64 `json:"score"`

	points []tracking.Position
}

func (r Rally) Len() int { return r.End - r.Start + 1 }

// Duration in seconds at the given frame rate.
func (r Rally) Duration(fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(r.Len()) / fps
}

// Segment groups visible positions into rallies. Gaps of up to MaxGap
// invisible rows stay inside a rally; a longer gap closes it.
func Segment(t tracking.Track, opts Options) []Rally {
	var (
		out     []Rally
		current []tracking.Position
		gap     int
	)
	flush := func() {
		if len(current) >= opts.MinLength {
			out = append(out, newRally(current))
		}
		current = nil
	}

	for _, p := range t {
		if p.Visible {
			current = append(current, p)
			gap = 0
			continue
		}
		if len(current) == 0 {
			continue
		}
		gap++
		if gap > opts.MaxGap {
			flush()
			gap = 0
		}
	}
	flush()
	return out
}

func newRally(pts []tracking.Position) Rally {
	r := Rally{
		Start:  pts[0].Frame,
		End:    pts[len(pts)-1].Frame,
		Frames: len(pts),
		points: pts,
	}
	r.MeanSpeed = meanSpeed(pts)
	r.Score = score(r)
	return r
}

// meanSpeed is the average displacement per frame between consecutive
// visible positions.
func meanSpeed(pts []tracking.Position) float64 {
	if len(pts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(pts); i++ {
		frames := pts[i].Frame - pts[i-1].Frame
		if frames < 1 {
			frames = 1
		}
		sum += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y) / float64(frames)
	}
	return sum / float64(len(pts)-1)
}

func score(r Rally) float64 {
	return float64(r.Len())*0.4 + r.MeanSpeed*0.3
}

// Selection is the outcome of ranking rallies.
type Selection struct {
	// Highlights are the top scoring rallies in chronological order.
	Highlights []Rally
	Longest    *Rally
	Shortest   *Rally
}

// Select keeps the best fraction of rallies by score, at least one. Longest
// and shortest are chosen among the kept rallies; shortest only considers
// rallies lasting minShortest seconds or more.
func Select(rallies []Rally, fraction, fps, minShortest float64) Selection {
	if len(rallies) == 0 {
		return Selection{}
	}
	ranked := append([]Rally(nil), rallies...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	keep := int(float64(len(ranked)) * fraction)
	if keep < 1 {
		keep = 1
	}
	if keep > len(ranked) {
		keep = len(ranked)
	}
	chosen := ranked[:keep]
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })

	sel := Selection{Highlights: chosen}
	for i := range chosen {
		r := &chosen[i]
		if sel.Longest == nil || r.Len() > sel.Longest.Len() {
			sel.Longest = r
		}
		if r.Duration(fps) < minShortest {
			continue
		}
		if sel.Shortest == nil || r.Len() < sel.Shortest.Len() {
			sel.Shortest = r
		}
	}
	return sel
}

// Positions returns the visible positions the rally was built from.
func (r Rally) Positions() []tracking.Position { return r.points }

package service

import (
	"context"
	"courtcam/config"
	"courtcam/pkg/ffmpeg"
	"courtcam/rally"
	"courtcam/tracking"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os/exec"
	"path/filepath"
	"testing"
)

// blackVideo writes frames of plain black 320x240 video at 25 fps so any
// colour in a derived clip comes from painting.
func blackVideo(t *testing.T, dir string, frames int, audio bool) string {
	t.Helper()
	out := filepath.Join(dir, "black.mp4")
	args := []string{"-hide_banner", "-y", "-f", "lavfi", "-i", "color=c=black:size=320x240:rate=25"}
	if audio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:sample_rate=44100")
	}
	args = append(args, "-frames:v", fmt.Sprint(frames), "-c:v", "libx264", "-pix_fmt", "yuv420p", "-shortest", out)
	b, err := exec.Command("ffmpeg", args...).CombinedOutput()
	require.NoError(t, err, string(b))
	return out
}

func clipFrames(t *testing.T, path string, w, h int) [][]byte {
	t.Helper()
	r, err := ffmpeg.New(config.FFmpeg{}).OpenReader(context.Background(), path, w, h)
	require.NoError(t, err)
	var frames [][]byte
	for {
		buf := make([]byte, r.FrameSize())
		if err := r.Next(buf); err != nil {
			break
		}
		frames = append(frames, buf)
	}
	require.NoError(t, r.Close())
	return frames
}

// reddish reports whether the bgr24 pixel at (x, y) is dominated by red.
func reddish(frame []byte, width, x, y int) bool {
	i := (y*width + x) * 3
	b, g, r := int(frame[i]), int(frame[i+1]), int(frame[i+2])
	return r > 150 && g < 90 && b < 90
}

func TestCutClipMarksShuttle(t *testing.T) {
	requireFFmpeg(t)

	var track tracking.Track
	for f := 0; f < 60; f++ {
		track = append(track, tracking.Position{Frame: f, Visible: f >= 20 && f <= 34, X: float64(100 + 4*f), Y: 120})
	}
	rallies := rally.Segment(track, rally.Options{MaxGap: 5, MinLength: 3})
	require.Len(t, rallies, 1)
	r := rallies[0]
	require.Equal(t, 20, r.Start)
	require.Equal(t, 34, r.End)

	for name, audio := range map[string]bool{"silent": false, "with audio": true} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			input := blackVideo(t, dir, 60, audio)

			s := newEnv(t, &fakeTracker{}).svc.(*service)
			info, err := s.describeAsset(context.Background(), input)
			require.NoError(t, err)
			require.Equal(t, audio, info.HasAudio)

			output := filepath.Join(dir, "clip.mp4")
			require.NoError(t, s.cutClip(context.Background(), input, info, r, output))

			frames := clipFrames(t, output, 320, 240)
			require.InDelta(t, r.Len(), len(frames), 1)
			for i, frame := range frames[:len(frames)-1] {
				x := 100 + 4*(r.Start+i)
				assert.True(t, reddish(frame, 320, x, 120), "frame %d has no dot at x=%d", i, x)
				assert.False(t, reddish(frame, 320, 20, 200), "frame %d is red away from the shuttle", i)
			}
		})
	}
}

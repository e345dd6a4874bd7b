package service

import (
	"context"
	"courtcam/apperr"
	"courtcam/pkg/ffmpeg"
	"courtcam/rally"
	"courtcam/tracking"
	"errors"
	"fmt"
	"gocv.io/x/gocv"
	"os"
	"path/filepath"
	"strings"
)

// profile is an H.264/AAC encoding preset for files played in a browser.
type profile struct {
	Preset    string
	CRF       string
	AudioRate string
}

var (
	webProfile  = profile{Preset: "veryfast", CRF: "23", AudioRate: "128k"}
	clipProfile = profile{Preset: "veryfast", CRF: "22", AudioRate: "128k"}
)

func (p profile) videoArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", p.CRF,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
	}
}

func (p profile) audioArgs() []string {
	return []string{"-c:a", "aac", "-b:a", p.AudioRate}
}

// cutClip re-encodes the frames of r into output with the tracked shuttle
// marked on every frame. Audio for the same interval is taken from input.
func (s *service) cutClip(ctx context.Context, input string, info ffmpeg.StreamInfo, r rally.Rally, output string) error {
	positions := make(map[int]tracking.Position, len(r.Positions()))
	for _, p := range r.Positions() {
		positions[p.Frame] = p
	}
	paint := func(img *gocv.Mat, frame int) {
		if pos, ok := positions[frame]; ok {
			shuttleDot(img, pos)
		}
	}

	var args []string
	if info.HasAudio {
		args = append(args,
			"-ss", formatSeconds(float64(r.Start)/info.FPS),
			"-t", formatSeconds(r.Duration(info.FPS)),
			"-i", input,
			"-map", "0:v:0", "-map", "1:a:0",
			"-shortest",
		)
		args = append(args, clipProfile.audioArgs()...)
	} else {
		args = append(args, "-an")
	}
	args = append(args, clipProfile.videoArgs()...)

	return s.paintVideo(ctx, "clip", input, info, span{First: r.Start, Last: r.End}, paint, output, args...)
}

// concatClips joins clips that share one encoding into output without
// re-encoding.
func (s *service) concatClips(ctx context.Context, clips []string, output string) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to join: %w", apperr.ErrInvalidInput)
	}

	listPath := filepath.Join(filepath.Dir(output), "concat_list.txt")
	defer os.Remove(listPath)

	var list strings.Builder
	for _, c := range clips {
		abs, err := filepath.Abs(c)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}

	err := s.runner.Run(ctx, "concat",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	)
	if err != nil {
		return errors.Join(apperr.ErrEncode, err)
	}
	return nil
}

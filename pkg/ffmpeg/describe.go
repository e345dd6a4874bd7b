package ffmpeg

import (
	"context"
	"courtcam/apperr"
	"courtcam/metrics"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

type StreamInfo struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Frames   int     `json:"frames"`
	Duration float64 `json:"duration"`
	Codec    string  `json:"codec"`
	HasAudio bool    `json:"has_audio"`
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Describe describes the first video stream of path. Any failure is an apperr.ErrDecode.
func (r *Runner) Describe(ctx context.Context, path string) (StreamInfo, error) {
	cmd := exec.CommandContext(ctx, r.FFprobeBinary,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		metrics.IncFFmpegFailure("ffprobe")
		return StreamInfo{}, fmt.Errorf("ffprobe %s: %w", filepath.Base(path),
			errors.Join(apperr.ErrDecode, &ExitError{Op: "ffprobe", Output: stderr.String(), Err: err}))
	}
	return parseFFprobe(out)
}

func parseFFprobe(out []byte) (StreamInfo, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return StreamInfo{}, errors.Join(apperr.ErrDecode, fmt.Errorf("parse ffprobe output: %w", err))
	}

	var info StreamInfo
	found := false
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if found {
				continue
			}
			found = true
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			info.FPS = parseRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = parseRate(s.RFrameRate)
			}
			info.Frames, _ = strconv.Atoi(s.NbFrames)
			info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		case "audio":
			info.HasAudio = true
		}
	}
	if !found || info.Width == 0 || info.Height == 0 {
		return StreamInfo{}, fmt.Errorf("no video stream: %w", apperr.ErrDecode)
	}

	if info.Duration == 0 {
		info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	}
	if info.Frames == 0 && info.FPS > 0 {
		info.Frames = int(math.Round(info.Duration * info.FPS))
	}
	return info, nil
}

// parseRate reads ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

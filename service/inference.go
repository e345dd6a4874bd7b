package service

import (
	"context"
	"courtcam/apperr"
	"courtcam/constant"
	"courtcam/entities"
	"courtcam/homography"
	"courtcam/pkg/canvas"
	"courtcam/pkg/detector"
	"courtcam/pkg/ffmpeg"
	"courtcam/tracking"
	"errors"
	"fmt"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const keypointConfidence = 0.3

func (s *service) runInference(ctx context.Context, p *progress, asset *entities.Asset, points *[4]homography.Point) (map[string]string, string, error) {
	input := s.media.Abs(asset.Path)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	jobDir, err := s.media.JobDir(p.id.String())
	if err != nil {
		return nil, "", err
	}

	p.step(ctx, "track", "tracking shuttle")
	track, err := s.tracker.Track(ctx, input)
	if err != nil {
		return nil, "", err
	}
	csvPath := filepath.Join(jobDir, "inferred_"+stem+".csv")
	if err := track.Save(csvPath); err != nil {
		return nil, "", err
	}
	zerolog.Ctx(ctx).Info().Int("positions", len(track)).Int("visible", track.Visible()).Msg("shuttle tracked")

	info, err := s.describeAsset(ctx, input)
	if err != nil {
		return nil, "", err
	}

	p.step(ctx, "court", "locating court")
	corners, err := s.resolveCorrespondences(ctx, input, info, jobDir, points)
	if err != nil {
		return nil, "", err
	}
	t, err := homography.Compute(corners)
	if err != nil {
		return nil, "", err
	}

	p.step(ctx, "landing", "finding landing point")
	landing, err := tracking.Landing(track)
	if err != nil {
		return nil, "", err
	}
	court := t.Project(homography.Point{X: landing.X, Y: landing.Y})
	if !court.Valid() {
		return nil, "", fmt.Errorf("landing point (%.0f, %.0f) does not project onto the court plane: %w",
			landing.X, landing.Y, apperr.ErrDegenerateConfiguration)
	}
	in := homography.InZone(court)
	zerolog.Ctx(ctx).Info().
		Int("frame", landing.Frame).
		Float64("court_x", court.X).
		Float64("court_y", court.Y).
		Bool("in", in).
		Msg("landing point projected")

	full := homography.RenderCourt(court, in)
	defer full.Close()
	fullPath := filepath.Join(jobDir, "court_full.png")
	if err := writePNG(fullPath, full); err != nil {
		return nil, "", err
	}
	zoom := homography.RenderZoom(full, court)
	defer zoom.Close()
	zoomPath := filepath.Join(jobDir, "court_zoom.png")
	if err := writePNG(zoomPath, zoom); err != nil {
		return nil, "", err
	}

	p.step(ctx, "overlay", "rendering overlay video")
	overlayPath := filepath.Join(jobDir, "inferred_"+stem+".mp4")
	if err := s.renderOverlay(ctx, input, info, track, t, landing, in, overlayPath); err != nil {
		return nil, "", err
	}

	outputs := map[string]string{
		constant.OutputOverlayVideo: overlayPath,
		constant.OutputCourtFull:    fullPath,
		constant.OutputCourtZoom:    zoomPath,
		constant.OutputTrackingCSV:  csvPath,
	}

	if s.cfg.Pipeline.ReplayEnabled {
		p.step(ctx, "replay", "cutting slow motion replay")
		replayPath := filepath.Join(jobDir, "replay_"+stem+".mp4")
		if err := s.cutReplay(ctx, overlayPath, info, landing.Frame, replayPath); err != nil {
			return nil, "", err
		}
		outputs[constant.OutputReplayVideo] = replayPath
	}

	text, _ := homography.Verdict(in)
	return outputs, fmt.Sprintf("%s at frame %d", text, landing.Frame), nil
}

// resolveCorrespondences returns the manual points when given. Otherwise it
// asks the detector for court keypoints on frames spread over the video and
// takes the first frame where all four corners are found.
func (s *service) resolveCorrespondences(ctx context.Context, input string, info ffmpeg.StreamInfo, dir string, manual *[4]homography.Point) ([4]homography.Point, error) {
	if manual != nil {
		return *manual, nil
	}

	attempts := max(s.cfg.Detector.AutoAttempts, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		index := 0
		if info.Frames > 0 {
			index = i * info.Frames / attempts
		}
		still := filepath.Join(dir, "court_sample_"+strconv.Itoa(index)+".jpg")
		if err := s.runner.ExtractFrame(ctx, input, index, still); err != nil {
			lastErr = errors.Join(apperr.ErrDecode, err)
			continue
		}
		if _, err := os.Stat(still); err != nil {
			lastErr = fmt.Errorf("frame %d was not extracted: %w", index, apperr.ErrDecode)
			continue
		}

		dets, err := s.tracker.Keypoints(ctx, still, keypointConfidence)
		if err != nil {
			lastErr = err
			zerolog.Ctx(ctx).Warn().Err(err).Int("frame", index).Msg("court keypoint detection failed")
			continue
		}
		corners, ok := detector.Corners(dets)
		if !ok {
			zerolog.Ctx(ctx).Info().Int("frame", index).Int("detections", len(dets)).Msg("court corners incomplete")
			continue
		}
		var pts [4]homography.Point
		for j, c := range corners {
			pts[j] = homography.Point{X: c[0], Y: c[1]}
		}
		zerolog.Ctx(ctx).Info().Int("frame", index).Msg("court corners detected")
		return pts, nil
	}

	err := fmt.Errorf("court corners not found in %d frames: %w", attempts, apperr.ErrDetectionFailure)
	if lastErr != nil {
		err = errors.Join(err, lastErr)
	}
	return [4]homography.Point{}, err
}

// cutReplay slows down the seconds around frame.
func (s *service) cutReplay(ctx context.Context, input string, info ffmpeg.StreamInfo, frame int, output string) error {
	at := float64(frame) / info.FPS
	start := max(at-s.cfg.Pipeline.ReplayBefore, 0)
	length := at + s.cfg.Pipeline.ReplayAfter - start
	slowdown := s.cfg.Pipeline.ReplaySlowdown
	if slowdown <= 0 {
		slowdown = 1
	}

	args := []string{
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(length),
		"-vf", "setpts=" + strconv.FormatFloat(slowdown, 'f', -1, 64) + "*PTS",
		"-an",
	}
	args = append(args, webProfile.videoArgs()...)
	if err := s.runner.Run(ctx, "replay", append(args, output)...); err != nil {
		return errors.Join(apperr.ErrEncode, err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func writePNG(path string, img gocv.Mat) error {
	data, err := canvas.Encode(gocv.PNGFileExt, img)
	if err != nil {
		return errors.Join(apperr.ErrEncode, err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

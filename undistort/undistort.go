// Package undistort rectifies fisheye footage with the current calibration.
package undistort

import (
	"context"
	"courtcam/apperr"
	"courtcam/calibration"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/metrics"
	"courtcam/pkg/ffmpeg"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type CalibrationSource interface {
	Result() (calibration.Result, error)
}

type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type Asset struct {
	Path   string                 `json:"path"`
	Width  int                    `json:"width"`
	Height int                    `json:"height"`
	Mode   constant.UndistortMode `json:"mode,omitempty"`
}

type Engine struct {
	calib   CalibrationSource
	runner  *ffmpeg.Runner
	pool    Runner
	balance float64
	rotate  bool
	outDir  string
	mapsDir string
}

func New(cfg config.Undistort, calib CalibrationSource, runner *ffmpeg.Runner, pool Runner, outDir, mapsDir string) *Engine {
	return &Engine{
		calib:   calib,
		runner:  runner,
		pool:    pool,
		balance: cfg.Balance,
		rotate:  cfg.Rotate,
		outDir:  outDir,
		mapsDir: mapsDir,
	}
}

// Video rectifies input. Quick mode keeps the container and stream-copies audio;
// full mode additionally re-encodes to a browser playable H.264 mp4. Output
// names depend only on the input name, so repeated runs overwrite the same file.
func (e *Engine) Video(ctx context.Context, input string, mode constant.UndistortMode) (Asset, error) {
	if !mode.Valid() {
		return Asset{}, fmt.Errorf("undistort mode %q: %w", mode, apperr.ErrInvalidInput)
	}
	res, err := e.calib.Result()
	if err != nil {
		return Asset{}, err
	}
	info, err := e.runner.Describe(ctx, input)
	if err != nil {
		return Asset{}, err
	}
	if err := os.MkdirAll(e.outDir, os.ModePerm); err != nil {
		return Asset{}, err
	}

	started := time.Now()
	name := filepath.Base(input)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var out Asset
	err = e.pool.Do(ctx, func(ctx context.Context) error {
		xPath, yPath, err := mapFiles(e.mapsDir, res, info.Width, info.Height, e.balance)
		if err != nil {
			return err
		}

		quick := filepath.Join(e.outDir, "quick_undistorted_"+name)
		if mode == constant.UndistortModeFull {
			quick = filepath.Join(e.outDir, "raw_undistorted_"+name)
		}
		zerolog.Ctx(ctx).Info().Str("input", input).Str("mode", string(mode)).Msg("undistorting video")
		if err := e.runner.Run(ctx, "undistort_remap", e.remapArgs(input, xPath, yPath, quick)...); err != nil {
			return errors.Join(apperr.ErrEncode, err)
		}

		out = Asset{Path: quick, Width: info.Width, Height: info.Height, Mode: mode}
		if e.rotate {
			out.Width, out.Height = info.Height, info.Width
		}
		if mode == constant.UndistortModeQuick {
			return nil
		}

		web := filepath.Join(e.outDir, "web_undistorted_"+stem+".mp4")
		defer os.Remove(quick)
		err = e.runner.Run(ctx, "undistort_web",
			"-i", quick,
			"-c:v", "libx264",
			"-preset", "fast",
			"-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
			"-c:a", "aac",
			web,
		)
		if err != nil {
			return errors.Join(apperr.ErrEncode, err)
		}
		out.Path = web
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("input", input).Msg("undistort failed")
		return Asset{}, err
	}

	metrics.ObserveUndistort(string(mode), started)
	zerolog.Ctx(ctx).Info().Str("output", out.Path).Dur("took", time.Since(started)).Msg("undistort complete")
	return out, nil
}

func (e *Engine) remapArgs(input, xPath, yPath, output string) []string {
	graph := "[0:v][1:v][2:v]remap[v]"
	if e.rotate {
		graph = "[0:v][1:v][2:v]remap[r];[r]transpose=1[v]"
	}
	return []string{
		"-i", input,
		"-i", xPath,
		"-i", yPath,
		"-filter_complex", graph,
		"-map", "[v]",
		"-map", "0:a?",
		"-c:v", "mpeg4",
		"-q:v", "2",
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		output,
	}
}

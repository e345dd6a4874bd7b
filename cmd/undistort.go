package cmd

import (
	"courtcam/calibration"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/pkg/ffmpeg"
	"courtcam/pkg/workerpool"
	"courtcam/undistort"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"os"
	"path/filepath"
	"strings"
)

// savedCalibration reads the lens model from the artifacts of a previous run.
type savedCalibration string

func (dir savedCalibration) Result() (calibration.Result, error) {
	return calibration.LoadResult(string(dir))
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func undistortCmd(cfg *config.Config) *cobra.Command {
	var (
		mode   string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "undistort <file>...",
		Short: "rectify videos or stills with the saved calibration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := constant.UndistortMode(mode)
			if !m.Valid() {
				return fmt.Errorf("unknown mode %q", mode)
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			ctx := logger.WithContext(cmd.Context())

			if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
				return err
			}
			pool := workerpool.New(ctx, 1)
			defer pool.Close()
			engine := undistort.New(cfg.Undistort, savedCalibration(cfg.Calibration.Dir), ffmpeg.New(cfg.FFmpeg), pool,
				outDir, filepath.Join(cfg.Calibration.Dir, "maps"))

			for _, input := range args {
				var (
					out undistort.Asset
					err error
				)
				if imageExts[strings.ToLower(filepath.Ext(input))] {
					out, err = engine.Image(ctx, input)
				} else {
					out, err = engine.Video(ctx, input, m)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", input, err)
				}
				logger.Info().Str("input", input).Str("output", out.Path).Int("width", out.Width).Int("height", out.Height).Msg("undistorted")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(constant.UndistortModeQuick), "video mode: quick or full")
	cmd.Flags().StringVarP(&outDir, "out", "o", "undistorted", "output directory")
	return cmd
}

package undistort

import (
	"context"
	"courtcam/apperr"
	"courtcam/metrics"
	"courtcam/pkg/canvas"
	"errors"
	"fmt"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const jpegQuality = 95

// Image rectifies a still with the same tables the video path uses and writes
// undistorted_<stem>.jpg next to the other outputs.
func (e *Engine) Image(ctx context.Context, imagePath string) (Asset, error) {
	res, err := e.calib.Result()
	if err != nil {
		return Asset{}, err
	}

	if _, err := os.Stat(imagePath); err != nil {
		return Asset{}, fmt.Errorf("open %s: %w", imagePath, apperr.ErrNotFound)
	}
	src := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer src.Close()
	if src.Empty() {
		return Asset{}, fmt.Errorf("decode %s: %w", imagePath, apperr.ErrDecode)
	}

	started := time.Now()
	var out Asset
	err = e.pool.Do(ctx, func(ctx context.Context) error {
		maps := BuildMaps(res, src.Cols(), src.Rows(), e.balance)
		dst, err := maps.Remap(src)
		if err != nil {
			return err
		}
		defer dst.Close()
		if e.rotate {
			portrait := gocv.NewMat()
			defer portrait.Close()
			gocv.Rotate(dst, &portrait, gocv.Rotate90Clockwise)
			dst, portrait = portrait, dst
		}

		data, err := canvas.Encode(gocv.JPEGFileExt, dst, int(gocv.IMWriteJpegQuality), jpegQuality)
		if err != nil {
			return errors.Join(apperr.ErrEncode, err)
		}
		if err := os.MkdirAll(e.outDir, os.ModePerm); err != nil {
			return err
		}
		name := filepath.Base(imagePath)
		path := filepath.Join(e.outDir, "undistorted_"+strings.TrimSuffix(name, filepath.Ext(name))+".jpg")
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		out = Asset{Path: path, Width: dst.Cols(), Height: dst.Rows()}
		return nil
	})
	if err != nil {
		return Asset{}, err
	}

	metrics.ObserveUndistort("image", started)
	zerolog.Ctx(ctx).Info().Str("output", out.Path).Msg("undistorted still")
	return out, nil
}

// Remap samples src bilinearly at every table coordinate. Pixels whose source
// falls outside the frame are black. The caller closes the result.
func (m Maps) Remap(src gocv.Mat) (gocv.Mat, error) {
	mapX, err := m.floatMat(m.X)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mapX.Close()
	mapY, err := m.floatMat(m.Y)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer mapY.Close()

	dst := gocv.NewMat()
	gocv.Remap(src, &dst, &mapX, &mapY, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return dst, nil
}

func (m Maps) floatMat(table []float32) (gocv.Mat, error) {
	if len(table) != m.Width*m.Height {
		return gocv.Mat{}, fmt.Errorf("remap table has %d entries, want %d", len(table), m.Width*m.Height)
	}
	mat := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32FC1)
	data, err := mat.DataPtrFloat32()
	if err != nil {
		mat.Close()
		return gocv.Mat{}, err
	}
	copy(data, table)
	return mat, nil
}

package chessboard

import (
	"context"
	"courtcam/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeBoard(t *testing.T, path string, squares bool) {
	t.Helper()
	const sq, margin = 40, 60
	board := calibration.DefaultBoard()
	w := (board.Cols+1)*sq + 2*margin
	h := (board.Rows+1)*sq + 2*margin

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
			if !squares {
				continue
			}
			bx, by := x-margin, y-margin
			if bx < 0 || by < 0 || bx >= (board.Cols+1)*sq || by >= (board.Rows+1)*sq {
				continue
			}
			if (bx/sq+by/sq)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDetectFindsAllCorners(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "board.png")
	preview := filepath.Join(dir, "board_preview.jpg")
	writeBoard(t, src, true)

	det, err := NewDetector(calibration.DefaultBoard()).Detect(context.Background(), src, preview)
	require.NoError(t, err)
	require.True(t, det.Found)
	assert.Len(t, det.Corners, 54)
	assert.Equal(t, 520, det.Width)
	assert.FileExists(t, preview)
}

func TestDetectBlankFrame(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "blank.png")
	preview := filepath.Join(dir, "blank_preview.jpg")
	writeBoard(t, src, false)

	det, err := NewDetector(calibration.DefaultBoard()).Detect(context.Background(), src, preview)
	require.NoError(t, err)
	assert.False(t, det.Found)
	assert.NoFileExists(t, preview)
}

func TestDetectUnreadableFile(t *testing.T) {
	_, err := NewDetector(calibration.DefaultBoard()).Detect(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "x.jpg")
	require.Error(t, err)
}

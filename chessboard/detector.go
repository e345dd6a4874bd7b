// Package chessboard finds checkerboard inner corners with OpenCV.
package chessboard

import (
	"context"
	"courtcam/apperr"
	"courtcam/calibration"
	"courtcam/fisheye"
	"fmt"
	"gocv.io/x/gocv"
	"image"
)

type Detector struct {
	board calibration.Board
}

func NewDetector(board calibration.Board) *Detector {
	return &Detector{board: board}
}

// Detect looks for the full inner-corner grid. On success the corners are
// refined to sub-pixel accuracy and an annotated copy is written to previewPath.
func (d *Detector) Detect(ctx context.Context, imagePath, previewPath string) (calibration.Detection, error) {
	if err := ctx.Err(); err != nil {
		return calibration.Detection{}, err
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return calibration.Detection{}, fmt.Errorf("read %s: %w", imagePath, apperr.ErrDecode)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	corners := gocv.NewMat()
	defer corners.Close()
	pattern := image.Pt(d.board.Cols, d.board.Rows)
	found := gocv.FindChessboardCorners(gray, pattern, &corners, gocv.CalibCBAdaptiveThresh|gocv.CalibCBNormalizeImage)

	det := calibration.Detection{Width: img.Cols(), Height: img.Rows()}
	if !found || corners.Rows()*corners.Cols() != d.board.Size() {
		return det, nil
	}

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 30, 0.1)
	gocv.CornerSubPix(gray, &corners, image.Pt(11, 11), image.Pt(-1, -1), criteria)

	det.Corners = make([]fisheye.Point, 0, d.board.Size())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		det.Corners = append(det.Corners, fisheye.Point{X: float64(v[0]), Y: float64(v[1])})
	}
	det.Found = true

	gocv.DrawChessboardCorners(&img, pattern, corners, true)
	if !gocv.IMWrite(previewPath, img) {
		return calibration.Detection{}, fmt.Errorf("write preview %s: %w", previewPath, apperr.ErrEncode)
	}
	det.PreviewPath = previewPath
	return det, nil
}

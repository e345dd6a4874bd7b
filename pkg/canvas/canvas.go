// Package canvas draws the annotation primitives used on court diagrams and
// overlay frames. Pictures are 8-bit BGR gocv Mats, the layout the frame pipes
// carry.
package canvas

import (
	"bytes"
	"fmt"
	"gocv.io/x/gocv"
	"image"
	"image/color"
	"math"
)

var (
	Black = color.RGBA{A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
	Green = color.RGBA{G: 255, A: 255}
	Blue  = color.RGBA{B: 255, A: 255}
	Cyan  = color.RGBA{G: 255, B: 255, A: 255}
)

const (
	font = gocv.FontHersheySimplex
	// coordinates are clamped so projected points far off screen still
	// convert to int safely
	maxCoord = 1 << 20
)

// New returns a width x height picture filled with c. The caller closes it.
func New(width, height int, c color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), height, width, gocv.MatTypeCV8UC3)
}

// FromBGR wraps one packed bgr24 frame. Read the drawing back with Mat.ToBytes.
func FromBGR(buf []byte, width, height int) (gocv.Mat, error) {
	if len(buf) != width*height*3 {
		return gocv.Mat{}, fmt.Errorf("frame is %d bytes, want %d", len(buf), width*height*3)
	}
	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, buf)
}

func point(x, y float64) (image.Point, bool) {
	if anyNaN(x, y) {
		return image.Point{}, false
	}
	return image.Pt(int(math.Round(clampCoord(x))), int(math.Round(clampCoord(y)))), true
}

func Line(dst *gocv.Mat, x0, y0, x1, y1 float64, thickness int, c color.RGBA) {
	a, ok := point(x0, y0)
	if !ok {
		return
	}
	b, ok := point(x1, y1)
	if !ok {
		return
	}
	gocv.Line(dst, a, b, c, thickness)
}

// Polygon draws a closed outline through pts. Nothing is drawn if any vertex
// is undefined.
func Polygon(dst *gocv.Mat, pts [][2]float64, thickness int, c color.RGBA) {
	if len(pts) < 2 {
		return
	}
	outline := make([]image.Point, 0, len(pts))
	for _, p := range pts {
		pt, ok := point(p[0], p[1])
		if !ok {
			return
		}
		outline = append(outline, pt)
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{outline})
	defer pv.Close()
	gocv.Polylines(dst, pv, true, c, thickness)
}

// Disc draws a filled circle.
func Disc(dst *gocv.Mat, cx, cy float64, radius int, c color.RGBA) {
	center, ok := point(cx, cy)
	if !ok {
		return
	}
	gocv.Circle(dst, center, radius, c, -1)
}

// Label renders text in the Hershey simplex face with its top-left corner at
// (x, y).
func Label(dst *gocv.Mat, text string, x, y int, scale float64, thickness int, c color.RGBA) {
	if text == "" {
		return
	}
	size := gocv.GetTextSize(text, font, scale, thickness)
	gocv.PutText(dst, text, image.Pt(x, y+size.Y), font, scale, c, thickness)
}

// Scale returns src resized by factor with bicubic interpolation. The caller
// closes the result.
func Scale(src gocv.Mat, factor float64) gocv.Mat {
	dst := gocv.NewMat()
	size := image.Pt(int(float64(src.Cols())*factor), int(float64(src.Rows())*factor))
	gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationCubic)
	return dst
}

// Encode compresses m into the format named by ext. params are OpenCV
// IMWrite flag/value pairs such as JPEG quality.
func Encode(ext gocv.FileExt, m gocv.Mat, params ...int) ([]byte, error) {
	if m.Empty() {
		return nil, fmt.Errorf("encode %s: empty image", ext)
	}
	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	if len(params) > 0 {
		buf, err = gocv.IMEncodeWithParams(ext, m, params)
	} else {
		buf, err = gocv.IMEncode(ext, m)
	}
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}

func clampCoord(v float64) float64 {
	return math.Max(-maxCoord, math.Min(maxCoord, v))
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

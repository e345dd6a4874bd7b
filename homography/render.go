package homography

import (
	"courtcam/pkg/canvas"
	"gocv.io/x/gocv"
	"image"
	"image/color"
)

// zoomWindow is the side of the square cut around the landing point, in
// template pixels, before it is doubled.
const zoomWindow = 500

// Verdict is the label and colour used for a landing decision.
func Verdict(in bool) (string, color.RGBA) {
	if in {
		return "Shuttle IN", canvas.Green
	}
	return "Shuttle OUT", canvas.Red
}

func pad(p Point) (float64, float64) {
	return p.X + TemplatePad, p.Y + TemplatePad
}

// RenderCourt draws the top-down court with the IN zone, the landing point
// and the verdict. The caller closes the returned picture.
func RenderCourt(landing Point, in bool) gocv.Mat {
	img := canvas.New(TemplateW+2*TemplatePad, TemplateH+2*TemplatePad, canvas.White)

	for _, l := range CourtLines {
		x0, y0 := pad(l.From)
		x1, y1 := pad(l.To)
		canvas.Line(&img, x0, y0, x1, y1, 3, canvas.Black)
	}

	zone := make([][2]float64, 0, len(Singles))
	for _, p := range Singles {
		x, y := pad(p)
		zone = append(zone, [2]float64{x, y})
	}
	canvas.Polygon(&img, zone, 3, canvas.Red)

	x, y := pad(landing)
	canvas.Disc(&img, x, y, 20, canvas.Blue)

	text, c := Verdict(in)
	canvas.Label(&img, text, TemplatePad, TemplatePad-60, 2, 4, c)
	return img
}

// RenderZoom cuts a window of court around the landing point and enlarges it
// twice. The window is shifted to stay inside the court image.
func RenderZoom(court gocv.Mat, landing Point) gocv.Mat {
	w, h := court.Cols(), court.Rows()
	x, y := pad(landing)
	if !landing.Valid() {
		x, y = float64(w)/2, float64(h)/2
	}

	half := zoomWindow / 2
	x0 := clamp(int(x)-half, 0, w-zoomWindow)
	y0 := clamp(int(y)-half, 0, h-zoomWindow)
	window := court.Region(image.Rect(x0, y0, x0+zoomWindow, y0+zoomWindow))
	defer window.Close()
	return canvas.Scale(window, 2)
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

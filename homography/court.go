package homography

// Court template coordinates, in template pixels of the near half court.
const (
	courtLeft    = 286
	courtRight   = 1379
	baselineY    = 2935
	netY         = 1748
	serviceY     = 2935 - 836
	longServiceY = 2935 - 135
	singlesLeft  = 286 + 82
	singlesRight = 1379 - 84
	centreX      = 833
)

// Template canvas size; drawings add TemplatePad on every side.
const (
	TemplateW   = 1665
	TemplateH   = 3228
	TemplatePad = 100
)

// CourtCorners are the correspondence targets: baseline left and right, then
// front service line left and right.
var CourtCorners = [4]Point{
	{X: courtLeft, Y: baselineY},
	{X: courtRight, Y: baselineY},
	{X: courtLeft, Y: serviceY},
	{X: courtRight, Y: serviceY},
}

type Line struct {
	Name string
	From Point
	To   Point
}

var CourtLines = []Line{
	{Name: "baseline", From: Point{X: courtLeft, Y: baselineY}, To: Point{X: courtRight, Y: baselineY}},
	{Name: "net", From: Point{X: courtLeft, Y: netY}, To: Point{X: courtRight, Y: netY}},
	{Name: "left_outer", From: Point{X: courtLeft, Y: baselineY}, To: Point{X: courtLeft, Y: netY}},
	{Name: "right_outer", From: Point{X: courtRight, Y: baselineY}, To: Point{X: courtRight, Y: netY}},
	{Name: "left_inner", From: Point{X: singlesLeft, Y: baselineY}, To: Point{X: singlesLeft, Y: serviceY}},
	{Name: "right_inner", From: Point{X: singlesRight, Y: baselineY}, To: Point{X: singlesRight, Y: serviceY}},
	{Name: "front_service", From: Point{X: courtLeft, Y: serviceY}, To: Point{X: courtRight, Y: serviceY}},
	{Name: "doubles_long_service", From: Point{X: courtLeft, Y: longServiceY}, To: Point{X: courtRight, Y: longServiceY}},
	{Name: "centre", From: Point{X: centreX, Y: baselineY}, To: Point{X: centreX, Y: serviceY}},
}

// Singles is the IN zone: between the singles sidelines, from the baseline to the net.
var Singles = [4]Point{
	{X: singlesLeft, Y: baselineY},
	{X: singlesRight, Y: baselineY},
	{X: singlesRight, Y: netY},
	{X: singlesLeft, Y: netY},
}

// InZone reports whether a court point lies inside or on the edge of Singles.
func InZone(p Point) bool {
	return inPolygon(p, Singles[:])
}

func inPolygon(p Point, poly []Point) bool {
	if !p.Valid() {
		return false
	}
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

func onSegment(p, a, b Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if cross > 1e-9 || cross < -1e-9 {
		return false
	}
	return p.X >= min(a.X, b.X) && p.X <= max(a.X, b.X) && p.Y >= min(a.Y, b.Y) && p.Y <= max(a.Y, b.Y)
}

// ImageZone projects Singles into the image with the inverse of t.
func ImageZone(t Transform) ([4]Point, error) {
	inv, err := t.Inverse()
	if err != nil {
		return [4]Point{}, err
	}
	var out [4]Point
	for i, p := range Singles {
		out[i] = inv.Project(p)
	}
	return out, nil
}

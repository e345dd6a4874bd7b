package calibration

// Board describes the inner-corner grid of the printed checkerboard.
type Board struct {
	Cols   int
	Rows   int
	Square float64
}

func DefaultBoard() Board {
	return Board{Cols: 9, Rows: 6, Square: 1}
}

func (b Board) Size() int {
	return b.Cols * b.Rows
}

// ObjectPoints returns the planar template (x, y, 0), x varying fastest.
func (b Board) ObjectPoints() [][3]float64 {
	sq := b.Square
	if sq <= 0 {
		sq = 1
	}
	pts := make([][3]float64, 0, b.Size())
	for y := 0; y < b.Rows; y++ {
		for x := 0; x < b.Cols; x++ {
			pts = append(pts, [3]float64{float64(x) * sq, float64(y) * sq, 0})
		}
	}
	return pts
}

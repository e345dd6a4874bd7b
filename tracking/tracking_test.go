package tracking

import (
	"bytes"
	"courtcam/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"strings"
	"testing"
)

// rally flies right and up, is hit back at frame 19, and turns again at frame 59.
func rally(hidden ...int) Track {
	skip := map[int]bool{}
	for _, f := range hidden {
		skip[f] = true
	}
	var t Track
	x, y := 500.0, 800.0
	for f := 0; f < 100; f++ {
		dx, dy := 10.0, -15.0
		if f >= 20 && f < 60 {
			dx, dy = -10, 15
		}
		if f > 0 {
			x += dx
			y += dy
		}
		t = append(t, Position{Frame: f, Visible: !skip[f], X: x, Y: y})
	}
	return t
}

func TestLandingIsFirstHitOfLastCluster(t *testing.T) {
	p, err := Landing(rally())
	require.NoError(t, err)
	assert.Equal(t, 59, p.Frame)
	assert.Equal(t, 290.0, p.X)
	assert.Equal(t, 1115.0, p.Y)
}

func TestLandingNeedsVisibleHit(t *testing.T) {
	_, err := Landing(rally(58, 59, 60))
	require.ErrorIs(t, err, apperr.ErrDetectionFailure)
}

func TestLandingStraightFlight(t *testing.T) {
	var tr Track
	for f := 0; f < 50; f++ {
		tr = append(tr, Position{Frame: f, Visible: true, X: float64(10 * f), Y: float64(5 * f)})
	}
	_, err := Landing(tr)
	require.ErrorIs(t, err, apperr.ErrDetectionFailure)

	_, err = Landing(nil)
	require.ErrorIs(t, err, apperr.ErrDetectionFailure)
}

func TestReadCSV(t *testing.T) {
	in := "Frame,Visibility,X,Y\n0,1,120,340\n1,0,0,0\n2,1,125.7,338\n"
	tr, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, tr, 3)
	assert.Equal(t, Position{Frame: 2, Visible: true, X: 125.7, Y: 338}, tr[2])
	assert.False(t, tr[1].Visible)
	assert.Equal(t, 2, tr.Visible())
}

func TestReadCSVColumnOrder(t *testing.T) {
	tr, err := ReadCSV(strings.NewReader("X, Y, Frame, Visibility\n12,34,7,1\n"))
	require.NoError(t, err)
	assert.Equal(t, Track{{Frame: 7, Visible: true, X: 12, Y: 34}}, tr)
}

func TestReadCSVRejectsBadInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("Frame,X,Y\n0,1,2\n"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ReadCSV(strings.NewReader("Frame,Visibility,X,Y\n0,1,abc,2\n"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ReadCSV(strings.NewReader(""))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSaveWritesIntegerPixels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.csv")
	require.NoError(t, Track{{Frame: 0, Visible: true, X: 10.9, Y: 3.2}, {Frame: 1}}.Save(path))

	tr, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Track{{Frame: 0, Visible: true, X: 10, Y: 3}, {Frame: 1}}, tr)

	var buf bytes.Buffer
	require.NoError(t, tr.WriteCSV(&buf))
	assert.Equal(t, "Frame,Visibility,X,Y\n0,1,10,3\n1,0,0,0\n", buf.String())
}

func TestAt(t *testing.T) {
	tr := Track{{Frame: 5, Visible: true}, {Frame: 9}}
	p, ok := tr.At(9)
	require.True(t, ok)
	assert.Equal(t, 9, p.Frame)
	_, ok = tr.At(0)
	assert.False(t, ok)
}

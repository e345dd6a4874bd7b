// Package tracking holds per-frame shuttle positions and the landing point
// analysis run over them.
package tracking

import (
	"bytes"
	"courtcam/apperr"
	"encoding/csv"
	"errors"
	"fmt"
	"github.com/google/renameio/v2"
	"io"
	"os"
	"strconv"
	"strings"
)

var header = []string{"Frame", "Visibility", "X", "Y"}

type Position struct {
	Frame   int     `json:"frame"`
	Visible bool    `json:"visible"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type Track []Position

// ReadCSV parses Frame,Visibility,X,Y rows. Column order is taken from the
// header; extra columns are ignored.
func ReadCSV(r io.Reader) (Track, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read track header: %w", errors.Join(apperr.ErrInvalidInput, err))
	}
	col := map[string]int{}
	for i, name := range head {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range header {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("track column %q missing: %w", name, apperr.ErrInvalidInput)
		}
	}

	var t Track
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read track line %d: %w", line, errors.Join(apperr.ErrInvalidInput, err))
		}
		p, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("track line %d: %w", line, err)
		}
		t = append(t, p)
	}
	return t, nil
}

func parseRow(rec []string, col map[string]int) (Position, error) {
	field := func(name string) (float64, error) {
		i := col[name]
		if i >= len(rec) {
			return 0, fmt.Errorf("column %s: %w", name, apperr.ErrInvalidInput)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, errors.Join(apperr.ErrInvalidInput, err))
		}
		return v, nil
	}

	frame, err := field("Frame")
	if err != nil {
		return Position{}, err
	}
	vis, err := field("Visibility")
	if err != nil {
		return Position{}, err
	}
	x, err := field("X")
	if err != nil {
		return Position{}, err
	}
	y, err := field("Y")
	if err != nil {
		return Position{}, err
	}
	return Position{Frame: int(frame), Visible: vis > 0, X: x, Y: y}, nil
}

func (t Track) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range t {
		vis := "0"
		if p.Visible {
			vis = "1"
		}
		rec := []string{
			strconv.Itoa(p.Frame),
			vis,
			strconv.Itoa(int(p.X)),
			strconv.Itoa(int(p.Y)),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func Load(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func (t Track) Save(path string) error {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// At returns the position recorded for frame, if any.
func (t Track) At(frame int) (Position, bool) {
	// rows are normally indexed by frame
	if frame >= 0 && frame < len(t) && t[frame].Frame == frame {
		return t[frame], true
	}
	for _, p := range t {
		if p.Frame == frame {
			return p, true
		}
	}
	return Position{}, false
}

func (t Track) Visible() int {
	var n int
	for _, p := range t {
		if p.Visible {
			n++
		}
	}
	return n
}

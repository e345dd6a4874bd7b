package calibration

import (
	"bufio"
	"bytes"
	"courtcam/apperr"
	"courtcam/fisheye"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/renameio/v2"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"io"
	"math"
	"os"
	"path/filepath"
)

const (
	CameraMatrixFile = "camera_matrix.npy"
	DistCoeffFile    = "dist_coeff.npy"
	metaFile         = "calibration.json"
)

// SaveResult writes K and D as NumPy arrays. Each file is replaced atomically.
func SaveResult(dir string, res Result) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}

	m := res.K.Matrix()
	kData := []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
	if err := writeNpyFile(filepath.Join(dir, CameraMatrixFile), mat.NewDense(3, 3, kData)); err != nil {
		return err
	}
	d := res.D
	if err := writeNpyFile(filepath.Join(dir, DistCoeffFile), mat.NewDense(4, 1, d[:])); err != nil {
		return err
	}

	meta, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dir, metaFile), meta, 0o644)
}

// LoadResult reads the artifacts written by SaveResult. A missing file is
// reported as apperr.ErrNoCalibrationData.
func LoadResult(dir string) (Result, error) {
	kData, err := readNpyFile(filepath.Join(dir, CameraMatrixFile), 9)
	if err != nil {
		return Result{}, err
	}
	dData, err := readNpyFile(filepath.Join(dir, DistCoeffFile), 4)
	if err != nil {
		return Result{}, err
	}

	// The metadata file is optional; artifacts produced elsewhere only carry K and D.
	var res Result
	if raw, err := os.ReadFile(filepath.Join(dir, metaFile)); err == nil {
		_ = json.Unmarshal(raw, &res)
	}

	var m [3][3]float64
	for i := 0; i < 9; i++ {
		m[i/3][i%3] = kData[i]
	}
	res.K = fisheye.IntrinsicsFromMatrix(m)
	copy(res.D[:], dData)
	return res, nil
}

func writeNpyFile(path string, m *mat.Dense) error {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, m); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readNpyFile(path string, want int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), apperr.ErrNoCalibrationData)
		}
		return nil, err
	}
	defer f.Close()

	_, data, err := readNpy(bufio.NewReader(f), want)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// readNpy decodes an array of exactly want float64 values. The shape is
// checked before any data is allocated.
func readNpy(r io.Reader, want int) ([]int, []float64, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	shape := nr.Header.Descr.Shape
	count := 1
	for _, n := range shape {
		if n <= 0 || n > want {
			return nil, nil, fmt.Errorf("unexpected shape %v", shape)
		}
		count *= n
	}
	if count != want {
		return nil, nil, fmt.Errorf("unexpected shape %v", shape)
	}
	if nr.Header.Descr.Fortran && len(shape) > 1 && shape[0] > 1 && shape[1] > 1 {
		return nil, nil, errors.New("fortran ordered matrices are not supported")
	}

	var data []float64
	if err := nr.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("read npy data: %w", err)
	}
	if len(data) != want {
		return nil, nil, fmt.Errorf("read %d values, want %d", len(data), want)
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, errors.New("npy data is not finite")
		}
	}
	return shape, data, nil
}

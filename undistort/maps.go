package undistort

import (
	"courtcam/calibration"
	"courtcam/fisheye"
	"courtcam/pkg/canvas"
	"encoding/binary"
	"fmt"
	"github.com/google/renameio/v2"
	"gocv.io/x/gocv"
	"golang.org/x/sync/singleflight"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
)

// outside marks a destination pixel with no source; remap fills it with black.
const outside = math.MaxUint16

// Maps holds, for every rectified pixel, the distorted source coordinate.
type Maps struct {
	Width  int
	Height int
	X      []float32
	Y      []float32
}

// scaled adapts intrinsics solved at one resolution to frames of another.
func scaled(res calibration.Result, width, height int) fisheye.Intrinsics {
	k := res.K
	if res.Width <= 0 || res.Height <= 0 || (res.Width == width && res.Height == height) {
		return k
	}
	sx := float64(width) / float64(res.Width)
	sy := float64(height) / float64(res.Height)
	return fisheye.Intrinsics{Fx: k.Fx * sx, Fy: k.Fy * sy, Cx: k.Cx * sx, Cy: k.Cy * sy}
}

func BuildMaps(res calibration.Result, width, height int, balance float64) Maps {
	k := scaled(res, width, height)
	newK := fisheye.EstimateNewIntrinsics(k, res.D, width, height, balance)

	m := Maps{Width: width, Height: height, X: make([]float32, width*height), Y: make([]float32, width*height)}
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			p := fisheye.Point{X: (float64(u) - newK.Cx) / newK.Fx, Y: (float64(v) - newK.Cy) / newK.Fy}
			src := fisheye.Distort(p, k, res.D)
			i := v*width + u
			m.X[i] = float32(src.X)
			m.Y[i] = float32(src.Y)
		}
	}
	return m
}

func (m Maps) index(v float32, limit int) uint16 {
	r := math.Round(float64(v))
	if math.IsNaN(r) || r < 0 || r >= float64(limit) {
		return outside
	}
	return uint16(r)
}

// WritePGM stores both tables as 16-bit binary PGM files, the input format of
// the ffmpeg remap filter.
func (m Maps) WritePGM(xPath, yPath string) error {
	if err := writePGM(xPath, m.Width, m.Height, func(i int) uint16 { return m.index(m.X[i], m.Width) }); err != nil {
		return err
	}
	return writePGM(yPath, m.Width, m.Height, func(i int) uint16 { return m.index(m.Y[i], m.Height) })
}

// pgmExt selects OpenCV's PxM encoder, which stores CV_16U as big-endian
// 16-bit P5.
const pgmExt gocv.FileExt = ".pgm"

// writePGM replaces path atomically, so a reader never sees a partial table.
func writePGM(path string, width, height int, at func(i int) uint16) error {
	m := gocv.NewMatWithSize(height, width, gocv.MatTypeCV16UC1)
	defer m.Close()
	px, err := m.DataPtrUint16()
	if err != nil {
		return err
	}
	for i := range px {
		px[i] = at(i)
	}
	data, err := canvas.Encode(pgmExt, m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// mapGroup lets one caller per table key build the files while the others
// wait for its result.
var mapGroup singleflight.Group

type mapPaths struct{ x, y string }

// mapFiles returns the cached map files for this calibration and frame size,
// generating them on first use.
func mapFiles(dir string, res calibration.Result, width, height int, balance float64) (string, string, error) {
	h := fnv.New64a()
	for _, v := range []float64{res.K.Fx, res.K.Fy, res.K.Cx, res.K.Cy, res.D[0], res.D[1], res.D[2], res.D[3], balance} {
		_ = binary.Write(h, binary.LittleEndian, v)
	}
	_ = binary.Write(h, binary.LittleEndian, []int64{int64(res.Width), int64(res.Height)})
	key := fmt.Sprintf("%dx%d_%016x", width, height, h.Sum64())

	xPath := filepath.Join(dir, "xmap_"+key+".pgm")
	yPath := filepath.Join(dir, "ymap_"+key+".pgm")
	v, err, _ := mapGroup.Do(filepath.Join(dir, key), func() (any, error) {
		// both files are renamed into place whole, y last
		if fileExists(xPath) && fileExists(yPath) {
			return mapPaths{xPath, yPath}, nil
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, err
		}
		if err := BuildMaps(res, width, height, balance).WritePGM(xPath, yPath); err != nil {
			return nil, fmt.Errorf("write remap tables: %w", err)
		}
		return mapPaths{xPath, yPath}, nil
	})
	if err != nil {
		return "", "", err
	}
	p := v.(mapPaths)
	return p.x, p.y, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

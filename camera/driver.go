package camera

import (
	"context"
	"courtcam/pkg/canvas"
	"github.com/google/renameio/v2"
	"gocv.io/x/gocv"
	"time"
)

// Frame is one packed bgr24 picture from the sensor.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

func (f Frame) WriteJPEG(path string, quality int) error {
	m, err := canvas.FromBGR(f.Data, f.Width, f.Height)
	if err != nil {
		return err
	}
	defer m.Close()
	data, err := canvas.Encode(gocv.JPEGFileExt, m, int(gocv.IMWriteJpegQuality), quality)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Driver is the raw device binding. CaptureFrame blocks until the next frame
// after the call arrives.
type Driver interface {
	Start(ctx context.Context) error
	Stop() error
	CaptureFrame(ctx context.Context) (Frame, error)
	Format() (width, height int, fps float64)
}

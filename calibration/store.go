package calibration

import (
	"context"
	"courtcam/apperr"
	"courtcam/fisheye"
	"courtcam/metrics"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Sample is one accepted checkerboard detection. It is never modified after Submit.
type Sample struct {
	Corners    []fisheye.Point
	ImagePath  string
	Width      int
	Height     int
	AcceptedAt time.Time
}

type Detection struct {
	Found       bool
	Corners     []fisheye.Point
	Width       int
	Height      int
	PreviewPath string
}

type Detector interface {
	Detect(ctx context.Context, imagePath, previewPath string) (Detection, error)
}

type Outcome struct {
	Accepted    bool   `json:"accepted"`
	Count       int    `json:"count"`
	Required    int    `json:"required"`
	Ready       bool   `json:"ready"`
	ImagePath   string `json:"image_path"`
	PreviewPath string `json:"preview_path"`
}

type Status struct {
	Count      int     `json:"count"`
	Required   int     `json:"required"`
	Ready      bool    `json:"ready"`
	Calibrated bool    `json:"calibrated"`
	RMS        float64 `json:"rms,omitempty"`
}

// Store accumulates samples for the current session. max <= 0 keeps every sample.
type Store struct {
	detector Detector
	board    Board
	required int
	max      int

	mu      sync.Mutex
	samples []Sample
}

func NewStore(detector Detector, board Board, required, max int) *Store {
	return &Store{detector: detector, board: board, required: required, max: max}
}

// Submit runs corner detection on a captured frame. A frame without the full
// pattern leaves the store unchanged and returns the raw frame as preview.
func (s *Store) Submit(ctx context.Context, imagePath string) (Outcome, error) {
	previewPath := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + "_preview.jpg"
	det, err := s.detector.Detect(ctx, imagePath, previewPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("detect checkerboard: %w", err)
	}

	if !det.Found || len(det.Corners) != s.board.Size() {
		count := s.Count()
		return Outcome{
			Accepted:    false,
			Count:       count,
			Required:    s.required,
			Ready:       count >= s.required,
			ImagePath:   imagePath,
			PreviewPath: imagePath,
		}, nil
	}

	sample := Sample{
		Corners:    append([]fisheye.Point(nil), det.Corners...),
		ImagePath:  imagePath,
		Width:      det.Width,
		Height:     det.Height,
		AcceptedAt: time.Now(),
	}

	s.mu.Lock()
	if len(s.samples) > 0 {
		first := s.samples[0]
		if first.Width != sample.Width || first.Height != sample.Height {
			s.mu.Unlock()
			return Outcome{}, fmt.Errorf("frame is %dx%d, session uses %dx%d: %w",
				sample.Width, sample.Height, first.Width, first.Height, apperr.ErrInvalidInput)
		}
	}
	if s.max > 0 && len(s.samples) >= s.max {
		s.samples = append(s.samples[:0:0], s.samples[len(s.samples)-s.max+1:]...)
	}
	s.samples = append(s.samples, sample)
	count := len(s.samples)
	s.mu.Unlock()

	metrics.RecordCalibrationSamples(count)
	return Outcome{
		Accepted:    true,
		Count:       count,
		Required:    s.required,
		Ready:       count >= s.required,
		ImagePath:   imagePath,
		PreviewPath: det.PreviewPath,
	}, nil
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *Store) Status() Status {
	count := s.Count()
	return Status{Count: count, Required: s.required, Ready: count >= s.required}
}

// Snapshot copies the samples if at least the required count is present at call time.
func (s *Store) Snapshot() ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) < s.required {
		return nil, fmt.Errorf("%d of %d samples: %w", len(s.samples), s.required, apperr.ErrInsufficientSamples)
	}
	return append([]Sample(nil), s.samples...), nil
}

package calibration

import (
	"context"
	"courtcam/apperr"
	"courtcam/camera"
	"courtcam/fisheye"
	"courtcam/metrics"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// Camera is the part of camera.Resource a calibration session needs.
type Camera interface {
	CaptureStill(ctx context.Context, dir, name string) (camera.Asset, error)
}

// Runner executes blocking work off the caller's goroutine.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	camera    Camera
	store     *Store
	pool      Runner
	board     Board
	dir       string
	framesDir string
	opts      SolveOptions

	running sync.Mutex

	mu     sync.RWMutex
	result *Result
}

func NewService(cam Camera, store *Store, pool Runner, board Board, dir, framesDir string) *Service {
	return &Service{
		camera:    cam,
		store:     store,
		pool:      pool,
		board:     board,
		dir:       dir,
		framesDir: framesDir,
		opts:      DefaultSolveOptions(),
	}
}

// CaptureFrame grabs a still (holding the camera only for the capture) and
// submits it to the store.
func (s *Service) CaptureFrame(ctx context.Context) (Outcome, error) {
	name := fmt.Sprintf("calib_%s.jpg", time.Now().Format("20060102_150405.000"))
	still, err := s.camera.CaptureStill(ctx, s.framesDir, name)
	if err != nil {
		return Outcome{}, err
	}

	out, err := s.store.Submit(ctx, still.Path)
	if err != nil {
		return Outcome{}, err
	}
	zerolog.Ctx(ctx).Info().Bool("accepted", out.Accepted).Int("count", out.Count).Msg("calibration frame submitted")
	return out, nil
}

func (s *Service) Status() Status {
	st := s.store.Status()
	if res, err := s.Result(); err == nil {
		st.Calibrated = true
		st.RMS = res.RMS
	}
	return st
}

// Run solves the lens model from every sample accepted so far and replaces
// the persisted artifacts. Only one run may be in flight.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, fmt.Errorf("calibration already running: %w", apperr.ErrResourceBusy)
	}
	defer s.running.Unlock()

	samples, err := s.store.Snapshot()
	if err != nil {
		return Result{}, err
	}

	views := make([][]fisheye.Point, len(samples))
	for i, sample := range samples {
		views[i] = sample.Corners
	}
	width, height := samples[0].Width, samples[0].Height

	zerolog.Ctx(ctx).Info().Int("samples", len(samples)).Int("width", width).Int("height", height).Msg("running calibration")
	started := time.Now()

	var res Result
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		solved, err := Solve(views, s.board.ObjectPoints(), width, height, s.opts)
		if err != nil {
			return err
		}
		if err := SaveResult(s.dir, solved); err != nil {
			return err
		}
		res = solved
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("calibration failed")
		return Result{}, err
	}

	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()

	metrics.RecordCalibrationRMS(res.RMS)
	zerolog.Ctx(ctx).Info().Float64("rms", res.RMS).Dur("took", time.Since(started)).Msg("calibration complete")
	return res, nil
}

// Result returns the current lens model, loading the artifacts on first use.
func (s *Service) Result() (Result, error) {
	s.mu.RLock()
	cached := s.result
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	res, err := LoadResult(s.dir)
	if err != nil {
		if errors.Is(err, apperr.ErrNoCalibrationData) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("load calibration: %w", err)
	}

	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()
	return res, nil
}

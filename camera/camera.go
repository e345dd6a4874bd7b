// Package camera owns the single physical camera. Resource is the only way to
// reach the device and serialises every operation through one state cell.
package camera

import (
	"context"
	"courtcam/apperr"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/metrics"
	"courtcam/pkg/ffmpeg"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Asset is a file produced by the camera.
type Asset struct {
	Path      string    `json:"path"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Frames    int       `json:"frames,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Encoder consumes bgr24 frames of a recording.
type Encoder interface {
	Write(frame []byte) error
	Close() error
}

type EncoderFactory func(ctx context.Context, path string, width, height int, fps float64) (Encoder, error)

// Remuxer wraps a raw elementary stream into a container without re-encoding.
type Remuxer func(ctx context.Context, src, dst string, fps float64) error

type Option func(*Resource)

func WithEncoder(f EncoderFactory) Option {
	return func(r *Resource) { r.newEncoder = f }
}

func WithRemuxer(f Remuxer) Option {
	return func(r *Resource) { r.remux = f }
}

type Resource struct {
	cfg           config.Camera
	recordingsDir string
	driver        Driver
	runner        *ffmpeg.Runner
	newEncoder    EncoderFactory
	remux         Remuxer

	mu            sync.Mutex
	state         constant.CameraState
	rec           *recording
	lastRecording string
}

type recording struct {
	rawPath  string
	width    int
	height   int
	fps      float64
	encoder  Encoder
	stopFeed context.CancelFunc
	cancel   context.CancelFunc
	done     chan struct{}
	frames   int
	err      error
	started  time.Time
}

func NewResource(cfg config.Camera, recordingsDir string, driver Driver, runner *ffmpeg.Runner, opts ...Option) *Resource {
	r := &Resource{
		cfg:           cfg,
		recordingsDir: recordingsDir,
		driver:        driver,
		runner:        runner,
		state:         constant.CameraStateIdle,
	}
	r.newEncoder = func(ctx context.Context, path string, width, height int, fps float64) (Encoder, error) {
		return runner.OpenWriter(ctx, "record", path, width, height, fps,
			"-an",
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-pix_fmt", "yuv420p",
			"-f", "h264",
		)
	}
	r.remux = func(ctx context.Context, src, dst string, fps float64) error {
		return runner.Run(ctx, "remux",
			"-r", strconv.FormatFloat(fps, 'f', -1, 64),
			"-i", src,
			"-c", "copy",
			dst,
		)
	}
	for _, opt := range opts {
		opt(r)
	}
	metrics.SetCameraState(string(r.state))
	return r
}

// Open starts the device stream and waits out the sensor warm-up.
func (r *Resource) Open(ctx context.Context) error {
	if err := r.driver.Start(ctx); err != nil {
		return err
	}
	if r.cfg.WarmUp <= 0 {
		return nil
	}
	select {
	case <-time.After(r.cfg.WarmUp):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close finishes an active recording and stops the device stream.
func (r *Resource) Close(ctx context.Context) error {
	var errs []error
	if r.State() == constant.CameraStateRecording {
		if _, err := r.StopRecording(ctx); err != nil && !errors.Is(err, apperr.ErrResourceBusy) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, r.driver.Stop())
	return errors.Join(errs...)
}

func (r *Resource) State() constant.CameraState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resource) transition(from, to constant.CameraState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return fmt.Errorf("camera is %s: %w", r.state, apperr.ErrResourceBusy)
	}
	r.state = to
	metrics.SetCameraState(string(to))
	return nil
}

func (r *Resource) setState(s constant.CameraState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	metrics.SetCameraState(string(s))
}

// CaptureStill writes the next frame as a JPEG. The camera is held only for the capture.
func (r *Resource) CaptureStill(ctx context.Context, dir, name string) (Asset, error) {
	if err := r.transition(constant.CameraStateIdle, constant.CameraStatePreviewing); err != nil {
		return Asset{}, err
	}
	frame, err := r.driver.CaptureFrame(ctx)
	r.setState(constant.CameraStateIdle)
	if err != nil {
		return Asset{}, fmt.Errorf("capture frame: %w", err)
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return Asset{}, err
	}
	path := filepath.Join(dir, name)
	if err := frame.WriteJPEG(path, r.cfg.JPEGQuality); err != nil {
		return Asset{}, fmt.Errorf("write still: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("path", path).Msg("still captured")
	return Asset{Path: path, Width: frame.Width, Height: frame.Height, CreatedAt: frame.Timestamp}, nil
}

// StartRecording pipes frames into a raw h264 file until StopRecording.
// Of two concurrent callers exactly one wins; the other gets apperr.ErrResourceBusy.
func (r *Resource) StartRecording(ctx context.Context) error {
	if err := r.transition(constant.CameraStateIdle, constant.CameraStateRecording); err != nil {
		return err
	}

	width, height, fps := r.driver.Format()
	if err := os.MkdirAll(r.recordingsDir, os.ModePerm); err != nil {
		r.setState(constant.CameraStateIdle)
		return err
	}
	started := time.Now()
	rawPath := filepath.Join(r.recordingsDir, fmt.Sprintf("match_%s.h264", started.Format("20060102_150405")))

	encCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	enc, err := r.newEncoder(encCtx, rawPath, width, height, fps)
	if err != nil {
		cancel()
		r.setState(constant.CameraStateIdle)
		return errors.Join(apperr.ErrEncode, fmt.Errorf("start recording: %w", err))
	}

	feedCtx, stopFeed := context.WithCancel(encCtx)
	rec := &recording{
		rawPath:  rawPath,
		width:    width,
		height:   height,
		fps:      fps,
		encoder:  enc,
		stopFeed: stopFeed,
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  started,
	}

	r.mu.Lock()
	r.rec = rec
	r.mu.Unlock()

	go r.feed(feedCtx, rec)
	zerolog.Ctx(ctx).Info().Str("path", rawPath).Float64("fps", fps).Msg("recording started")
	return nil
}

func (r *Resource) feed(ctx context.Context, rec *recording) {
	defer close(rec.done)
	for {
		frame, err := r.driver.CaptureFrame(ctx)
		if err == nil {
			err = rec.encoder.Write(frame.Data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rec.err = fmt.Errorf("recording aborted after %d frames: %w", rec.frames, err)
			zerolog.Ctx(ctx).Error().Err(rec.err).Msg("recording failed")
			go r.abort(rec)
			return
		}
		rec.frames++
	}
}

// abort releases the camera after a device or encoder failure, unless a
// concurrent StopRecording already claimed the recording.
func (r *Resource) abort(rec *recording) {
	<-rec.done
	r.mu.Lock()
	claimed := r.rec == rec
	if claimed {
		r.rec = nil
	}
	r.mu.Unlock()
	if !claimed {
		return
	}
	_ = rec.encoder.Close()
	rec.cancel()
	r.setState(constant.CameraStateIdle)
}

// StopRecording finishes the active recording and remuxes it to mp4. The camera
// is back in idle afterwards, also when encoding failed.
func (r *Resource) StopRecording(ctx context.Context) (Asset, error) {
	r.mu.Lock()
	rec := r.rec
	if r.state != constant.CameraStateRecording || rec == nil {
		state := r.state
		r.mu.Unlock()
		return Asset{}, fmt.Errorf("camera is %s, not recording: %w", state, apperr.ErrResourceBusy)
	}
	r.rec = nil
	r.mu.Unlock()

	defer r.setState(constant.CameraStateIdle)
	defer rec.cancel()

	rec.stopFeed()
	<-rec.done

	if err := rec.encoder.Close(); err != nil {
		return Asset{}, errors.Join(apperr.ErrEncode, err)
	}
	if rec.err != nil {
		return Asset{}, rec.err
	}

	mp4 := strings.TrimSuffix(rec.rawPath, filepath.Ext(rec.rawPath)) + ".mp4"
	if err := r.remux(ctx, rec.rawPath, mp4, rec.fps); err != nil {
		return Asset{}, errors.Join(apperr.ErrEncode, err)
	}
	if err := os.Remove(rec.rawPath); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", rec.rawPath).Msg("failed to remove raw recording")
	}

	r.mu.Lock()
	r.lastRecording = mp4
	r.mu.Unlock()

	zerolog.Ctx(ctx).Info().Str("path", mp4).Int("frames", rec.frames).Dur("duration", time.Since(rec.started)).Msg("recording stopped")
	return Asset{
		Path:      mp4,
		Width:     rec.width,
		Height:    rec.height,
		Frames:    rec.frames,
		CreatedAt: rec.started,
	}, nil
}

package camera

import (
	"context"
	"courtcam/config"
	"courtcam/pkg/ffmpeg"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"strconv"
	"sync"
	"time"
)

var ErrStreamStopped = errors.New("camera stream is not running")

// FFmpegDriver reads frames from a V4L2 device through an ffmpeg decoder.
type FFmpegDriver struct {
	cfg    config.Camera
	runner *ffmpeg.Runner

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	latest  Frame
	notify  chan struct{}
	err     error
}

func NewFFmpegDriver(cfg config.Camera, runner *ffmpeg.Runner) *FFmpegDriver {
	return &FFmpegDriver{cfg: cfg, runner: runner, notify: make(chan struct{})}
}

func (d *FFmpegDriver) Format() (int, int, float64) {
	return d.cfg.Width, d.cfg.Height, d.cfg.FPS
}

func (d *FFmpegDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	reader, err := d.runner.OpenReader(streamCtx, d.cfg.Device, d.cfg.Width, d.cfg.Height,
		"-f", d.cfg.InputFormat,
		"-framerate", strconv.FormatFloat(d.cfg.FPS, 'f', -1, 64),
		"-video_size", fmt.Sprintf("%dx%d", d.cfg.Width, d.cfg.Height),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("open camera %s: %w", d.cfg.Device, err)
	}

	d.running = true
	d.cancel = cancel
	d.err = nil
	d.done = make(chan struct{})
	go d.readLoop(streamCtx, reader, d.done)

	zerolog.Ctx(ctx).Info().Str("device", d.cfg.Device).Int("width", d.cfg.Width).Int("height", d.cfg.Height).Float64("fps", d.cfg.FPS).Msg("camera stream started")
	return nil
}

func (d *FFmpegDriver) readLoop(ctx context.Context, reader *ffmpeg.FrameReader, done chan struct{}) {
	defer close(done)

	var seq uint64
	for {
		buf := make([]byte, reader.FrameSize())
		if err := reader.Next(buf); err != nil {
			closeErr := reader.Close()
			d.mu.Lock()
			d.running = false
			if ctx.Err() == nil {
				d.err = errors.Join(fmt.Errorf("camera stream ended: %w", err), closeErr)
				zerolog.Ctx(ctx).Error().Err(d.err).Msg("camera stream failed")
			}
			close(d.notify)
			d.notify = make(chan struct{})
			d.mu.Unlock()
			return
		}

		seq++
		d.mu.Lock()
		d.latest = Frame{
			Seq:       seq,
			Timestamp: time.Now(),
			Width:     d.cfg.Width,
			Height:    d.cfg.Height,
			Data:      buf,
		}
		close(d.notify)
		d.notify = make(chan struct{})
		d.mu.Unlock()
	}
}

func (d *FFmpegDriver) CaptureFrame(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	if !d.running {
		err := d.err
		d.mu.Unlock()
		if err != nil {
			return Frame{}, err
		}
		return Frame{}, ErrStreamStopped
	}
	wait := d.notify
	d.mu.Unlock()

	select {
	case <-wait:
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		if d.err != nil {
			return Frame{}, d.err
		}
		return Frame{}, ErrStreamStopped
	}
	return d.latest, nil
}

func (d *FFmpegDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
	return nil
}

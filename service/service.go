package service

import (
	"context"
	"courtcam/apperr"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/dto"
	"courtcam/entities"
	"courtcam/homography"
	"courtcam/media"
	"courtcam/metrics"
	"courtcam/pkg/detector"
	"courtcam/pkg/ffmpeg"
	"courtcam/repository"
	"courtcam/tracking"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// Tracker is the model service: shuttle positions for a video and court
// keypoints for a still.
type Tracker interface {
	Track(ctx context.Context, videoPath string) (tracking.Track, error)
	Keypoints(ctx context.Context, imagePath string, confidence float64) ([]detector.Detection, error)
}

type InferenceRequest struct {
	InputToken uuid.UUID
	// Points are the image positions of the court corners in CourtCorners
	// order. Nil means detect them.
	Points *[4]homography.Point
}

type HighlightsRequest struct {
	InputToken uuid.UUID
}

type Service interface {
	SubmitInference(ctx context.Context, req InferenceRequest) (uuid.UUID, error)
	SubmitHighlights(ctx context.Context, req HighlightsRequest) (uuid.UUID, error)
	Status() Job
	// Wait blocks until the running worker, if any, has returned.
	Wait()
}

// runFunc does the work of one job and returns its outputs as file paths
// under the media root.
type runFunc func(ctx context.Context, p *progress, asset *entities.Asset) (map[string]string, string, error)

type service struct {
	cfg     *config.Config
	ctx     context.Context
	slot    *JobSlot
	repo    repository.AssetRepository
	media   *media.Library
	runner  *ffmpeg.Runner
	tracker Tracker
	events  Publisher
	mirror  Mirror
	wg      sync.WaitGroup
}

type Option func(s *service)

func WithPublisher(p Publisher) Option {
	return func(s *service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMirror(m Mirror) Option {
	return func(s *service) {
		if m != nil {
			s.mirror = m
		}
	}
}

func (s *service) SubmitInference(ctx context.Context, req InferenceRequest) (uuid.UUID, error) {
	if req.Points != nil {
		for _, p := range req.Points {
			if !p.Valid() {
				return uuid.Nil, fmt.Errorf("court point %v: %w", p, apperr.ErrInvalidInput)
			}
		}
	}
	points := req.Points
	return s.submit(ctx, constant.JobKindInference, req.InputToken, func(ctx context.Context, p *progress, asset *entities.Asset) (map[string]string, string, error) {
		return s.runInference(ctx, p, asset, points)
	})
}

func (s *service) SubmitHighlights(ctx context.Context, req HighlightsRequest) (uuid.UUID, error) {
	return s.submit(ctx, constant.JobKindHighlights, req.InputToken, s.runHighlights)
}

func (s *service) Status() Job {
	return s.slot.Snapshot()
}

func (s *service) Wait() {
	s.wg.Wait()
}

func (s *service) submit(ctx context.Context, kind constant.JobKind, token uuid.UUID, run runFunc) (uuid.UUID, error) {
	if token == uuid.Nil {
		return uuid.Nil, fmt.Errorf("input token is required: %w", apperr.ErrInvalidInput)
	}

	id, err := s.slot.Acquire(kind)
	if err != nil {
		zerolog.Ctx(ctx).Info().Str("kind", string(kind)).Err(err).Msg("job rejected")
		return uuid.Nil, err
	}

	asset, err := s.repo.ConsumeToken(ctx, token)
	if err != nil {
		s.slot.Abort(id)
		return uuid.Nil, err
	}
	if !asset.Kind.Video() {
		s.slot.Abort(id)
		return uuid.Nil, fmt.Errorf("asset %s is a %s, not a video: %w", asset.ID, asset.Kind, apperr.ErrInvalidInput)
	}

	logger := zerolog.Ctx(s.ctx).With().Str("job_id", id.String()).Str("kind", string(kind)).Logger()
	jobCtx := logger.WithContext(s.ctx)

	metrics.RecordJob(string(kind), string(constant.JobStatusRunning))
	s.publish(jobCtx, s.slot.Snapshot())
	logger.Info().Str("asset_id", asset.ID.String()).Str("input", asset.Path).Msg("job accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.work(jobCtx, id, kind, asset, run)
	}()
	return id, nil
}

func (s *service) work(ctx context.Context, id uuid.UUID, kind constant.JobKind, asset *entities.Asset, run runFunc) {
	p := &progress{slot: s.slot, id: id, kind: kind}
	outputs, message, err := s.safeRun(ctx, p, asset, run)
	p.finish()

	if err == nil {
		var urls map[string]string
		urls, err = s.publishOutputs(ctx, id, outputs)
		if err == nil {
			s.slot.Complete(id, message, urls)
			metrics.RecordJob(string(kind), string(constant.JobStatusComplete))
			zerolog.Ctx(ctx).Info().Int("outputs", len(urls)).Msg("job completed")
		}
	}
	if err != nil {
		s.slot.Fail(id, err)
		metrics.RecordJob(string(kind), string(constant.JobStatusError))
		zerolog.Ctx(ctx).Error().Err(err).Msg("job failed")
	}
	s.publish(ctx, s.slot.Snapshot())
}

func (s *service) safeRun(ctx context.Context, p *progress, asset *entities.Asset, run runFunc) (outputs map[string]string, message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx, p, asset)
}

// publishOutputs turns output paths into media URLs and mirrors the files
// when object storage is configured. A mirror failure is logged only.
func (s *service) publishOutputs(ctx context.Context, id uuid.UUID, outputs map[string]string) (map[string]string, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	urls := make(map[string]string, len(outputs))
	for key, p := range outputs {
		u, err := s.media.URL(p)
		if err != nil {
			return nil, err
		}
		urls[key] = u
	}
	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, id.String(), outputs); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to mirror job outputs")
		}
	}
	return urls, nil
}

func (s *service) publish(ctx context.Context, j Job) {
	if s.events == nil {
		return
	}
	event := dto.JobEvent{
		JobId:   j.ID,
		Kind:    j.Kind,
		Status:  j.Status,
		Message: j.Message,
		Outputs: j.Outputs,
		At:      time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("status", string(j.Status)).Msg("failed to publish job event")
	}
}

// progress reports stage messages to the slot and times each stage.
type progress struct {
	slot    *JobSlot
	id      uuid.UUID
	kind    constant.JobKind
	stage   string
	started time.Time
}

func (p *progress) step(ctx context.Context, stage, message string) {
	p.finish()
	p.stage, p.started = stage, time.Now()
	p.slot.Progress(p.id, message)
	zerolog.Ctx(ctx).Info().Str("stage", stage).Msg(message)
}

func (p *progress) finish() {
	if p.stage != "" {
		metrics.ObserveStage(string(p.kind), p.stage, p.started)
		p.stage = ""
	}
}

// describeAsset reads the stream parameters of a job input, which must have a
// video stream with a known frame rate.
func (s *service) describeAsset(ctx context.Context, path string) (ffmpeg.StreamInfo, error) {
	info, err := s.runner.Describe(ctx, path)
	if err != nil {
		return ffmpeg.StreamInfo{}, err
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return ffmpeg.StreamInfo{}, errors.Join(apperr.ErrDecode, fmt.Errorf("%s has no usable video stream", path))
	}
	return info, nil
}

func NewService(
	ctx context.Context,
	cfg *config.Config,
	repo repository.AssetRepository,
	lib *media.Library,
	runner *ffmpeg.Runner,
	tracker Tracker,
	opts ...Option,
) Service {
	s := &service{
		cfg:     cfg,
		ctx:     ctx,
		slot:    NewJobSlot(),
		repo:    repo,
		media:   lib,
		runner:  runner,
		tracker: tracker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

package service

import (
	"context"
	"courtcam/apperr"
	"courtcam/media"
	"courtcam/pkg/ffmpeg"
	"courtcam/repository"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"os"
	"path/filepath"
	"time"
)

const frameTTL = 10 * time.Minute

// Frame is one decoded still of a video, used to pick court corners by hand.
type Frame struct {
	ImageURL   string `json:"image_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FrameCount int    `json:"frame_count"`
}

// FrameInspector extracts single frames of catalogued videos. Extracted
// frames and stream info are cached.
type FrameInspector struct {
	repo   repository.AssetRepository
	media  *media.Library
	runner *ffmpeg.Runner
	cache  *cache.Cache
}

func NewFrameInspector(repo repository.AssetRepository, lib *media.Library, runner *ffmpeg.Runner) *FrameInspector {
	return &FrameInspector{
		repo:   repo,
		media:  lib,
		runner: runner,
		// no janitor goroutine; expired entries are dropped on insert
		cache: cache.New(frameTTL, 0),
	}
}

func (f *FrameInspector) Frame(ctx context.Context, assetId uuid.UUID, index int) (Frame, error) {
	if index < 0 {
		return Frame{}, fmt.Errorf("frame index %d: %w", index, apperr.ErrInvalidInput)
	}
	key := fmt.Sprintf("frame/%s/%d", assetId, index)
	if v, ok := f.cache.Get(key); ok {
		return v.(Frame), nil
	}

	asset, err := f.repo.FindAssetById(ctx, assetId)
	if err != nil {
		return Frame{}, err
	}
	if !asset.Kind.Video() {
		return Frame{}, fmt.Errorf("asset %s is a %s, not a video: %w", asset.ID, asset.Kind, apperr.ErrInvalidInput)
	}
	input := f.media.Abs(asset.Path)

	info, err := f.streamInfo(ctx, assetId, input)
	if err != nil {
		return Frame{}, err
	}
	if info.Frames > 0 && index >= info.Frames {
		return Frame{}, fmt.Errorf("frame index %d beyond %d frames: %w", index, info.Frames, apperr.ErrInvalidInput)
	}

	dir, err := f.media.JobDir("frames_" + assetId.String())
	if err != nil {
		return Frame{}, err
	}
	still := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", index))
	if err := f.runner.ExtractFrame(ctx, input, index, still); err != nil {
		return Frame{}, errors.Join(apperr.ErrDecode, err)
	}
	if _, err := os.Stat(still); err != nil {
		return Frame{}, fmt.Errorf("frame %d was not extracted: %w", index, apperr.ErrInvalidInput)
	}
	u, err := f.media.URL(still)
	if err != nil {
		return Frame{}, err
	}

	fr := Frame{ImageURL: u, Width: info.Width, Height: info.Height, FrameCount: info.Frames}
	f.cache.DeleteExpired()
	f.cache.SetDefault(key, fr)
	return fr, nil
}

func (f *FrameInspector) streamInfo(ctx context.Context, assetId uuid.UUID, input string) (ffmpeg.StreamInfo, error) {
	key := "info/" + assetId.String()
	if v, ok := f.cache.Get(key); ok {
		return v.(ffmpeg.StreamInfo), nil
	}
	info, err := f.runner.Describe(ctx, input)
	if err != nil {
		return ffmpeg.StreamInfo{}, err
	}
	f.cache.SetDefault(key, info)
	return info, nil
}

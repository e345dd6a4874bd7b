package handler

import (
	"courtcam/apperr"
	"courtcam/constant"
	"courtcam/dto"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (h *HttpHandler) UndistortVideo(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.UndistortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Mode == "" {
		req.Mode = constant.UndistortModeQuick
	}
	if !req.Mode.Valid() {
		abort(c, fmt.Errorf("undistort mode %q: %w", req.Mode, apperr.ErrInvalidInput))
		return
	}

	asset, err := h.Repo.FindAssetById(ctx, req.AssetId)
	if err != nil {
		abort(c, err)
		return
	}
	if !asset.Kind.Video() {
		abort(c, fmt.Errorf("asset %s is a %s, not a video: %w", asset.ID, asset.Kind, apperr.ErrInvalidInput))
		return
	}

	out, err := h.Undistort.Video(ctx, h.Media.Abs(asset.Path), req.Mode)
	if err != nil {
		abort(c, err)
		return
	}
	frames, fps := asset.Frames, asset.FPS
	if info, err := h.Describer.Describe(ctx, out.Path); err == nil {
		frames, fps = info.Frames, info.FPS
	} else {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", out.Path).Msg("failed to read undistorted stream info")
	}
	resp, err := h.register(ctx, constant.AssetKindUndistorted, out.Path, out.Width, out.Height, frames, fps)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *HttpHandler) UndistortImage(c *gin.Context) {
	ctx := c.Request.Context()
	var req dto.UndistortImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	asset, err := h.Repo.FindAssetById(ctx, req.AssetId)
	if err != nil {
		abort(c, err)
		return
	}
	if asset.Kind != constant.AssetKindCapture && asset.Kind != constant.AssetKindCalibration {
		abort(c, fmt.Errorf("asset %s is a %s, not a still: %w", asset.ID, asset.Kind, apperr.ErrInvalidInput))
		return
	}

	out, err := h.Undistort.Image(ctx, h.Media.Abs(asset.Path))
	if err != nil {
		abort(c, err)
		return
	}
	resp, err := h.register(ctx, constant.AssetKindDerived, out.Path, out.Width, out.Height, 0, 0)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Upload stores a video sent as the "video" form file. Files ffprobe cannot
// read are removed again.
func (h *HttpHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	file, err := c.FormFile("video")
	if err != nil {
		badRequest(c, err)
		return
	}
	dir, err := h.Media.Dir(constant.AssetKindUpload)
	if err != nil {
		abort(c, err)
		return
	}
	name := unsafeName.ReplaceAllString(filepath.Base(file.Filename), "_")
	dst := filepath.Join(dir, uuid.NewString()[:8]+"_"+name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		abort(c, err)
		return
	}

	info, err := h.Describer.Describe(ctx, dst)
	if err == nil && (info.Width == 0 || info.Height == 0) {
		err = errors.New("no video stream")
	}
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			zerolog.Ctx(ctx).Warn().Err(rmErr).Str("path", dst).Msg("failed to remove rejected upload")
		}
		abort(c, fmt.Errorf("upload %q is not a readable video: %w", file.Filename, errors.Join(apperr.ErrInvalidInput, err)))
		return
	}

	resp, err := h.register(ctx, constant.AssetKindUpload, dst, info.Width, info.Height, info.Frames, info.FPS)
	if err != nil {
		abort(c, err)
		return
	}
	zerolog.Ctx(ctx).Info().Str("asset_id", resp.AssetId.String()).Int64("size", file.Size).Msg("video uploaded")
	c.JSON(http.StatusCreated, resp)
}

func (h *HttpHandler) Frame(c *gin.Context) {
	var q dto.FrameQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	id, err := uuid.Parse(q.AssetId)
	if err != nil {
		badRequest(c, err)
		return
	}
	fr, err := h.Frames.Frame(c.Request.Context(), id, q.Index)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, fr)
}

const defaultAssetLimit = 50

// ListAssets returns catalogued media, newest first. Listing never issues input
// tokens; those come only with the response that produced a video.
func (h *HttpHandler) ListAssets(c *gin.Context) {
	var q dto.AssetQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultAssetLimit
	}

	assets, err := h.Repo.ListAssets(c.Request.Context(), q.Kind, q.Limit)
	if err != nil {
		abort(c, err)
		return
	}
	resp := make([]dto.AssetResponse, 0, len(assets))
	for _, a := range assets {
		created := a.CreatedAt
		resp = append(resp, dto.AssetResponse{
			AssetId:   a.ID,
			Kind:      a.Kind,
			URL:       h.url(h.Media.Abs(a.Path)),
			Width:     a.Width,
			Height:    a.Height,
			Frames:    a.Frames,
			FPS:       a.FPS,
			CreatedAt: &created,
		})
	}
	c.JSON(http.StatusOK, resp)
}

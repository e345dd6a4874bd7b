package handler

import (
	"courtcam/constant"
	"courtcam/dto"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"time"
)

func (h *HttpHandler) CameraStatus(c *gin.Context) {
	c.JSON(http.StatusOK, dto.CameraStatus{State: h.Camera.State()})
}

func (h *HttpHandler) Capture(c *gin.Context) {
	ctx := c.Request.Context()
	dir, err := h.Media.Dir(constant.AssetKindCapture)
	if err != nil {
		abort(c, err)
		return
	}
	still, err := h.Camera.CaptureStill(ctx, dir, fmt.Sprintf("capture_%s.jpg", time.Now().Format("20060102_150405.000")))
	if err != nil {
		abort(c, err)
		return
	}
	resp, err := h.register(ctx, constant.AssetKindCapture, still.Path, still.Width, still.Height, 0, 0)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *HttpHandler) StartRecording(c *gin.Context) {
	if err := h.Camera.StartRecording(c.Request.Context()); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CameraStatus{State: h.Camera.State()})
}

func (h *HttpHandler) StopRecording(c *gin.Context) {
	ctx := c.Request.Context()
	rec, err := h.Camera.StopRecording(ctx)
	if err != nil {
		abort(c, err)
		return
	}
	resp, err := h.register(ctx, constant.AssetKindRecording, rec.Path, rec.Width, rec.Height, rec.Frames, h.Config.Camera.FPS)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HttpHandler) Replay(c *gin.Context) {
	ctx := c.Request.Context()
	dir, err := h.Media.Dir(constant.AssetKindReplay)
	if err != nil {
		abort(c, err)
		return
	}
	clip, err := h.Camera.InstantReplay(ctx, dir)
	if err != nil {
		abort(c, err)
		return
	}

	width, height, frames, fps := clip.Width, clip.Height, clip.Frames, h.Config.Camera.FPS
	if info, err := h.Describer.Describe(ctx, clip.Path); err == nil {
		width, height, frames, fps = info.Width, info.Height, info.Frames, info.FPS
	} else {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", clip.Path).Msg("failed to read replay stream info")
	}
	resp, err := h.register(ctx, constant.AssetKindReplay, clip.Path, width, height, frames, fps)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

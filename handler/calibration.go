package handler

import (
	"courtcam/dto"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
)

func (h *HttpHandler) CaptureCalibrationFrame(c *gin.Context) {
	out, err := h.Calibration.CaptureFrame(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CalibrationFrame{
		Accepted:   out.Accepted,
		Count:      out.Count,
		Required:   out.Required,
		Ready:      out.Ready,
		ImageURL:   h.url(out.ImagePath),
		PreviewURL: h.url(out.PreviewPath),
	})
}

func (h *HttpHandler) CalibrationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calibration.Status())
}

func (h *HttpHandler) RunCalibration(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := h.Calibration.Run(ctx)
	if err != nil {
		abort(c, err)
		return
	}
	if h.Mirror != nil {
		if err := h.Mirror.MirrorDir(ctx, h.Config.Calibration.Dir, "calibration"); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to mirror calibration artifacts")
		}
	}
	c.JSON(http.StatusOK, dto.CalibrationResult{
		RMS:     res.RMS,
		Width:   res.Width,
		Height:  res.Height,
		Samples: res.Samples,
	})
}

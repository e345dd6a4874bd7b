package handler

import (
	"courtcam/dto"
	"courtcam/homography"
	"courtcam/service"
	"github.com/gin-gonic/gin"
	"net/http"
)

func (h *HttpHandler) SubmitInference(c *gin.Context) {
	var req dto.InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sreq := service.InferenceRequest{InputToken: req.InputToken}
	if req.Points != nil {
		var pts [4]homography.Point
		for i, p := range req.Points {
			pts[i] = homography.Point{X: p[0], Y: p[1]}
		}
		sreq.Points = &pts
	}

	id, err := h.Orchestrator.SubmitInference(c.Request.Context(), sreq)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobAccepted{JobId: id})
}

func (h *HttpHandler) SubmitHighlights(c *gin.Context) {
	var req dto.HighlightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := h.Orchestrator.SubmitHighlights(c.Request.Context(), service.HighlightsRequest{InputToken: req.InputToken})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.JobAccepted{JobId: id})
}

func (h *HttpHandler) JobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Orchestrator.Status())
}

package handler

import (
	"courtcam/apperr"
	"courtcam/dto"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
)

// StatusCode maps an error to the HTTP status reported for it.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrResourceBusy):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInsufficientSamples), errors.Is(err, apperr.ErrNoCalibrationData):
		return http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDegenerateConfiguration), errors.Is(err, apperr.ErrDetectionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrDecode), errors.Is(err, apperr.ErrEncode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	code := StatusCode(err)
	logger := zerolog.Ctx(c.Request.Context())
	if code >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		logger.Info().Err(err).Str("path", c.FullPath()).Int("status", code).Msg("request rejected")
	}
	c.AbortWithStatusJSON(code, dto.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
}

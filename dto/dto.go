package dto

import (
	"courtcam/constant"
	"courtcam/homography"
	"github.com/google/uuid"
	"time"
)

// JobRequest arrives on the job queue.
type JobRequest struct {
	Kind       constant.JobKind     `json:"kind"`
	InputToken uuid.UUID            `json:"inputToken"`
	Points     *[4]homography.Point `json:"points,omitempty"`
}

// JobEvent is published on every job transition.
type JobEvent struct {
	JobId   uuid.UUID          `json:"jobId"`
	Kind    constant.JobKind   `json:"kind"`
	Status  constant.JobStatus `json:"status"`
	Message string             `json:"message"`
	Outputs map[string]string  `json:"outputs,omitempty"`
	At      time.Time          `json:"at"`
}

type InferenceRequest struct {
	InputToken uuid.UUID      `json:"input_token" binding:"required"`
	Points     *[4][2]float64 `json:"points"`
}

type HighlightsRequest struct {
	InputToken uuid.UUID `json:"input_token" binding:"required"`
}

type JobAccepted struct {
	JobId uuid.UUID `json:"job_id"`
}

type UndistortRequest struct {
	AssetId uuid.UUID              `json:"asset_id" binding:"required"`
	Mode    constant.UndistortMode `json:"mode"`
}

type UndistortImageRequest struct {
	AssetId uuid.UUID `json:"asset_id" binding:"required"`
}

type FrameQuery struct {
	AssetId string `form:"asset_id" binding:"required,uuid"`
	Index   int    `form:"index"`
}

// AssetQuery filters the catalog listing, newest first.
type AssetQuery struct {
	Kind  constant.AssetKind `form:"kind" binding:"omitempty,oneof=capture calibration recording upload undistorted replay derived"`
	Limit int                `form:"limit" binding:"omitempty,min=1,max=500"`
}

// AssetResponse describes a stored media file. InputToken is set for videos
// that may be submitted to a job.
type AssetResponse struct {
	AssetId    uuid.UUID          `json:"asset_id"`
	Kind       constant.AssetKind `json:"kind"`
	URL        string             `json:"url"`
	Width      int                `json:"width,omitempty"`
	Height     int                `json:"height,omitempty"`
	Frames     int                `json:"frame_count,omitempty"`
	FPS        float64            `json:"fps,omitempty"`
	InputToken *uuid.UUID         `json:"input_token,omitempty"`
	CreatedAt  *time.Time         `json:"created_at,omitempty"`
}

type CameraStatus struct {
	State constant.CameraState `json:"state"`
}

// CalibrationFrame is the outcome of one calibration capture. PreviewURL
// shows the detected corners, or the raw frame when none were found.
type CalibrationFrame struct {
	Accepted   bool   `json:"accepted"`
	Count      int    `json:"count"`
	Required   int    `json:"required"`
	Ready      bool   `json:"ready"`
	ImageURL   string `json:"image_url"`
	PreviewURL string `json:"preview_url,omitempty"`
}

type CalibrationResult struct {
	RMS     float64 `json:"rms"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Samples int     `json:"samples"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

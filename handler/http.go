package handler

import (
	"context"
	"courtcam/calibration"
	"courtcam/camera"
	"courtcam/config"
	"courtcam/constant"
	"courtcam/dto"
	"courtcam/entities"
	"courtcam/media"
	"courtcam/pkg/ffmpeg"
	"courtcam/repository"
	"courtcam/service"
	"courtcam/undistort"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Camera interface {
	State() constant.CameraState
	CaptureStill(ctx context.Context, dir, name string) (camera.Asset, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (camera.Asset, error)
	InstantReplay(ctx context.Context, dir string) (camera.Asset, error)
}

type Calibration interface {
	CaptureFrame(ctx context.Context) (calibration.Outcome, error)
	Status() calibration.Status
	Run(ctx context.Context) (calibration.Result, error)
}

type Undistorter interface {
	Video(ctx context.Context, input string, mode constant.UndistortMode) (undistort.Asset, error)
	Image(ctx context.Context, imagePath string) (undistort.Asset, error)
}

type Frames interface {
	Frame(ctx context.Context, assetId uuid.UUID, index int) (service.Frame, error)
}

type Describer interface {
	Describe(ctx context.Context, path string) (ffmpeg.StreamInfo, error)
}

// ArtifactMirror copies the calibration artifacts to object storage.
type ArtifactMirror interface {
	MirrorDir(ctx context.Context, localDir, group string) error
}

type HttpDependencies struct {
	Config       *config.Config
	Repo         repository.AssetRepository
	Media        *media.Library
	Describer    Describer
	Camera       Camera
	Calibration  Calibration
	Undistort    Undistorter
	Frames       Frames
	Orchestrator service.Service
	Mirror       ArtifactMirror
}

type HttpHandler struct {
	HttpDependencies
}

func NewHttpHandler(deps HttpDependencies) *HttpHandler {
	return &HttpHandler{HttpDependencies: deps}
}

func (h *HttpHandler) Register(r gin.IRouter) {
	api := r.Group("/api")

	cam := api.Group("/camera")
	cam.GET("/status", h.CameraStatus)
	cam.POST("/capture", h.Capture)
	cam.POST("/recording/start", h.StartRecording)
	cam.POST("/recording/stop", h.StopRecording)
	cam.POST("/replay", h.Replay)

	calib := api.Group("/calibration")
	calib.POST("/frames", h.CaptureCalibrationFrame)
	calib.GET("/status", h.CalibrationStatus)
	calib.POST("/run", h.RunCalibration)

	api.POST("/undistort", h.UndistortVideo)
	api.POST("/undistort/image", h.UndistortImage)
	api.POST("/uploads", h.Upload)
	api.GET("/frames", h.Frame)
	api.GET("/assets", h.ListAssets)

	jobs := api.Group("/jobs")
	jobs.POST("/inference", h.SubmitInference)
	jobs.POST("/highlights", h.SubmitHighlights)
	jobs.GET("/status", h.JobStatus)
}

// register records a produced file in the catalog. Videos get a one-shot
// input token so they can be submitted to a job.
func (h *HttpHandler) register(ctx context.Context, kind constant.AssetKind, path string, width, height, frames int, fps float64) (dto.AssetResponse, error) {
	rel, err := h.Media.Rel(path)
	if err != nil {
		return dto.AssetResponse{}, err
	}
	asset := &entities.Asset{Kind: kind, Path: rel, Width: width, Height: height, Frames: frames, FPS: fps}
	if fps > 0 {
		asset.Duration = float64(frames) / fps
	}
	if err := h.Repo.CreateAsset(ctx, asset); err != nil {
		return dto.AssetResponse{}, err
	}
	u, err := h.Media.URL(path)
	if err != nil {
		return dto.AssetResponse{}, err
	}

	resp := dto.AssetResponse{
		AssetId: asset.ID,
		Kind:    kind,
		URL:     u,
		Width:   width,
		Height:  height,
		Frames:  frames,
		FPS:     fps,
	}
	if kind.Video() {
		tok, err := h.Repo.IssueToken(ctx, asset.ID)
		if err != nil {
			return dto.AssetResponse{}, err
		}
		resp.InputToken = &tok.Token
	}
	return resp, nil
}

// url is like Media.URL for paths that may be empty.
func (h *HttpHandler) url(p string) string {
	if p == "" {
		return ""
	}
	u, err := h.Media.URL(p)
	if err != nil {
		return ""
	}
	return u
}

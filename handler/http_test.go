package handler

import (
	"bytes"
	"context"
	"courtcam/apperr"
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
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeCamera struct {
	state   constant.CameraState
	err     error
	started int
	recDir  string
}

func (f *fakeCamera) State() constant.CameraState { return f.state }

func (f *fakeCamera) CaptureStill(_ context.Context, dir, name string) (camera.Asset, error) {
	if f.err != nil {
		return camera.Asset{}, f.err
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
		return camera.Asset{}, err
	}
	return camera.Asset{Path: p, Width: 1280, Height: 720, CreatedAt: time.Now()}, nil
}

func (f *fakeCamera) StartRecording(context.Context) error {
	if f.state == constant.CameraStateRecording {
		return fmt.Errorf("camera is recording: %w", apperr.ErrResourceBusy)
	}
	f.started++
	f.state = constant.CameraStateRecording
	return nil
}

func (f *fakeCamera) StopRecording(context.Context) (camera.Asset, error) {
	if f.state != constant.CameraStateRecording {
		return camera.Asset{}, fmt.Errorf("not recording: %w", apperr.ErrResourceBusy)
	}
	f.state = constant.CameraStateIdle
	return camera.Asset{Path: filepath.Join(f.recDir, "rec.mp4"), Width: 1280, Height: 720, Frames: 300}, nil
}

func (f *fakeCamera) InstantReplay(_ context.Context, dir string) (camera.Asset, error) {
	return camera.Asset{Path: filepath.Join(dir, "replay.mp4"), Width: 1280, Height: 720, Frames: 90}, nil
}

type fakeCalibration struct {
	outcome calibration.Outcome
	result  calibration.Result
	err     error
}

func (f *fakeCalibration) CaptureFrame(context.Context) (calibration.Outcome, error) {
	return f.outcome, f.err
}

func (f *fakeCalibration) Status() calibration.Status {
	return calibration.Status{Count: f.outcome.Count, Required: 15}
}

func (f *fakeCalibration) Run(context.Context) (calibration.Result, error) {
	return f.result, f.err
}

type fakeUndistorter struct {
	dir  string
	err  error
	mode constant.UndistortMode
}

func (f *fakeUndistorter) Video(_ context.Context, input string, mode constant.UndistortMode) (undistort.Asset, error) {
	if f.err != nil {
		return undistort.Asset{}, f.err
	}
	f.mode = mode
	return undistort.Asset{Path: filepath.Join(f.dir, "undistorted_"+filepath.Base(input)), Width: 720, Height: 1280, Mode: mode}, nil
}

func (f *fakeUndistorter) Image(_ context.Context, imagePath string) (undistort.Asset, error) {
	if f.err != nil {
		return undistort.Asset{}, f.err
	}
	return undistort.Asset{Path: filepath.Join(f.dir, "undistorted_"+filepath.Base(imagePath)), Width: 720, Height: 1280}, nil
}

type fakeFrames struct {
	frame service.Frame
	err   error
	index int
}

func (f *fakeFrames) Frame(_ context.Context, _ uuid.UUID, index int) (service.Frame, error) {
	f.index = index
	return f.frame, f.err
}

type fakeDescriber struct {
	info ffmpeg.StreamInfo
	err  error
}

func (f *fakeDescriber) Describe(context.Context, string) (ffmpeg.StreamInfo, error) {
	return f.info, f.err
}

type fakeOrchestrator struct {
	err       error
	inference service.InferenceRequest
	job       service.Job
}

func (f *fakeOrchestrator) SubmitInference(_ context.Context, req service.InferenceRequest) (uuid.UUID, error) {
	f.inference = req
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

func (f *fakeOrchestrator) SubmitHighlights(context.Context, service.HighlightsRequest) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

func (f *fakeOrchestrator) Status() service.Job { return f.job }
func (f *fakeOrchestrator) Wait()               {}

type testServer struct {
	router    *gin.Engine
	repo      repository.AssetRepository
	lib       *media.Library
	cam       *fakeCamera
	calib     *fakeCalibration
	und       *fakeUndistorter
	frames    *fakeFrames
	describer *fakeDescriber
	orch      *fakeOrchestrator
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.NewDB(config.Database{Driver: "sqlite", DSN: fmt.Sprintf("file:http_%s?mode=memory&cache=shared", name)}, "test")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	repo := repository.NewRepo(db)
	require.NoError(t, repo.Migrate(context.Background()))

	lib := media.New(config.Media{Root: t.TempDir(), URLPrefix: "/media"})
	recDir, err := lib.Dir(constant.AssetKindRecording)
	require.NoError(t, err)
	undDir, err := lib.Dir(constant.AssetKindUndistorted)
	require.NoError(t, err)

	s := &testServer{
		router:    gin.New(),
		repo:      repo,
		lib:       lib,
		cam:       &fakeCamera{state: constant.CameraStatePreviewing, recDir: recDir},
		calib:     &fakeCalibration{},
		und:       &fakeUndistorter{dir: undDir},
		frames:    &fakeFrames{},
		describer: &fakeDescriber{info: ffmpeg.StreamInfo{Width: 320, Height: 240, FPS: 25, Frames: 100}},
		orch:      &fakeOrchestrator{job: service.Job{Status: constant.JobStatusIdle}},
	}
	cfg := &config.Config{Camera: config.Camera{FPS: 30}}
	NewHttpHandler(HttpDependencies{
		Config:       cfg,
		Repo:         repo,
		Media:        lib,
		Describer:    s.describer,
		Camera:       s.cam,
		Calibration:  s.calib,
		Undistort:    s.und,
		Frames:       s.frames,
		Orchestrator: s.orch,
	}).Register(s.router)
	return s
}

func (s *testServer) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) asset(t *testing.T, kind constant.AssetKind, rel string) *entities.Asset {
	t.Helper()
	a := &entities.Asset{Kind: kind, Path: rel, Width: 320, Height: 240, Frames: 100, FPS: 25}
	require.NoError(t, s.repo.CreateAsset(context.Background(), a))
	return a
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCameraStatus(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/camera/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constant.CameraStatePreviewing, decode[dto.CameraStatus](t, w).State)
}

func TestCaptureRegistersStill(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodPost, "/api/camera/capture", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindCapture, resp.Kind)
	assert.True(t, strings.HasPrefix(resp.URL, "/media/captures/capture_"), resp.URL)
	assert.Nil(t, resp.InputToken)

	stored, err := s.repo.FindAssetById(context.Background(), resp.AssetId)
	require.NoError(t, err)
	assert.Equal(t, 1280, stored.Width)
}

func TestCaptureWhileRecordingIsConflict(t *testing.T) {
	s := newServer(t)
	s.cam.err = fmt.Errorf("camera is recording: %w", apperr.ErrResourceBusy)
	w := s.do(http.MethodPost, "/api/camera/capture", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, w).Error, "resource busy")
}

func TestRecordingLifecycle(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/camera/recording/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, constant.CameraStateRecording, decode[dto.CameraStatus](t, w).State)

	w = s.do(http.MethodPost, "/api/camera/recording/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, s.cam.started)

	w = s.do(http.MethodPost, "/api/camera/recording/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindRecording, resp.Kind)
	assert.Equal(t, "/media/recordings/rec.mp4", resp.URL)
	assert.Equal(t, 300, resp.Frames)
	assert.Equal(t, 30.0, resp.FPS)
	require.NotNil(t, resp.InputToken)

	asset, err := s.repo.ConsumeToken(context.Background(), *resp.InputToken)
	require.NoError(t, err)
	assert.Equal(t, resp.AssetId, asset.ID)
	assert.InDelta(t, 10.0, asset.Duration, 1e-9)

	w = s.do(http.MethodPost, "/api/camera/recording/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReplayUsesDetectedStream(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodPost, "/api/camera/replay", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindReplay, resp.Kind)
	assert.Equal(t, 320, resp.Width)
	assert.Equal(t, 100, resp.Frames)
	assert.NotNil(t, resp.InputToken)
}

func TestCalibrationEndpoints(t *testing.T) {
	s := newServer(t)
	framesDir, err := s.lib.Dir(constant.AssetKindCalibration)
	require.NoError(t, err)
	s.calib.outcome = calibration.Outcome{
		Accepted:    true,
		Count:       3,
		Required:    15,
		ImagePath:   filepath.Join(framesDir, "calib_003.jpg"),
		PreviewPath: filepath.Join(framesDir, "calib_003_corners.jpg"),
	}

	w := s.do(http.MethodPost, "/api/calibration/frames", nil)
	require.Equal(t, http.StatusOK, w.Code)
	frame := decode[dto.CalibrationFrame](t, w)
	assert.True(t, frame.Accepted)
	assert.Equal(t, 3, frame.Count)
	assert.Equal(t, "/media/calibration_frames/calib_003.jpg", frame.ImageURL)
	assert.Equal(t, "/media/calibration_frames/calib_003_corners.jpg", frame.PreviewURL)

	w = s.do(http.MethodGet, "/api/calibration/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[calibration.Status](t, w).Count)

	s.calib.err = fmt.Errorf("3 of 15 samples: %w", apperr.ErrInsufficientSamples)
	w = s.do(http.MethodPost, "/api/calibration/run", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	s.calib.err = nil
	s.calib.result = calibration.Result{RMS: 0.4, Width: 1280, Height: 720, Samples: 15}
	w = s.do(http.MethodPost, "/api/calibration/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.CalibrationResult{RMS: 0.4, Width: 1280, Height: 720, Samples: 15}, decode[dto.CalibrationResult](t, w))
}

func TestUndistortVideo(t *testing.T) {
	s := newServer(t)
	video := s.asset(t, constant.AssetKindUpload, "uploads/match.mp4")

	w := s.do(http.MethodPost, "/api/undistort", dto.UndistortRequest{AssetId: uuid.New()})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/undistort", dto.UndistortRequest{AssetId: video.ID, Mode: "fast"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/undistort", dto.UndistortRequest{AssetId: video.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, constant.UndistortModeQuick, s.und.mode)
	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindUndistorted, resp.Kind)
	assert.Equal(t, "/media/undistorted/undistorted_match.mp4", resp.URL)
	assert.NotNil(t, resp.InputToken)

	s.und.err = fmt.Errorf("lens model: %w", apperr.ErrNoCalibrationData)
	w = s.do(http.MethodPost, "/api/undistort", dto.UndistortRequest{AssetId: video.ID, Mode: constant.UndistortModeFull})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestUndistortImageNeedsStill(t *testing.T) {
	s := newServer(t)
	video := s.asset(t, constant.AssetKindUpload, "uploads/match.mp4")
	still := s.asset(t, constant.AssetKindCapture, "captures/a.jpg")

	w := s.do(http.MethodPost, "/api/undistort/image", dto.UndistortImageRequest{AssetId: video.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/undistort/image", dto.UndistortImageRequest{AssetId: still.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindDerived, resp.Kind)
	assert.Equal(t, 720, resp.Width)
	assert.Nil(t, resp.InputToken)
}

func upload(t *testing.T, s *testServer, filename string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestUploadRegistersVideo(t *testing.T) {
	s := newServer(t)
	w := upload(t, s, "../Match Day 1.mp4")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.AssetResponse](t, w)
	assert.Equal(t, constant.AssetKindUpload, resp.Kind)
	assert.True(t, strings.HasSuffix(resp.URL, "_Match_Day_1.mp4"), resp.URL)
	assert.True(t, strings.HasPrefix(resp.URL, "/media/uploads/"), resp.URL)
	assert.Equal(t, 100, resp.Frames)
	require.NotNil(t, resp.InputToken)

	stored, err := s.repo.FindAssetById(context.Background(), resp.AssetId)
	require.NoError(t, err)
	assert.FileExists(t, s.lib.Abs(stored.Path))
}

func TestUploadRejectsUnreadableFile(t *testing.T) {
	s := newServer(t)
	s.describer.err = errors.New("ffprobe: invalid data found")
	w := upload(t, s, "notes.txt")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	dir, err := s.lib.Dir(constant.AssetKindUpload)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assets, err := s.repo.ListAssets(context.Background(), constant.AssetKindUpload, 10)
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestUploadWithoutFile(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodPost, "/api/uploads", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrameQuery(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/frames?asset_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/frames", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.frames.frame = service.Frame{ImageURL: "/media/outputs/x/frame_000007.jpg", Width: 320, Height: 240, FrameCount: 100}
	w = s.do(http.MethodGet, "/api/frames?asset_id="+uuid.NewString()+"&index=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, s.frames.index)
	assert.Equal(t, s.frames.frame, decode[service.Frame](t, w))

	s.frames.err = fmt.Errorf("asset: %w", apperr.ErrNotFound)
	w = s.do(http.MethodGet, "/api/frames?asset_id="+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAssets(t *testing.T) {
	s := newServer(t)
	match := s.asset(t, constant.AssetKindUpload, "uploads/match.mp4")
	s.asset(t, constant.AssetKindCapture, "captures/a.jpg")
	s.asset(t, constant.AssetKindCapture, "captures/b.jpg")

	w := s.do(http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[[]dto.AssetResponse](t, w), 3)

	w = s.do(http.MethodGet, "/api/assets?kind=upload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[[]dto.AssetResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, match.ID, list[0].AssetId)
	assert.Equal(t, "/media/uploads/match.mp4", list[0].URL)
	assert.Equal(t, 100, list[0].Frames)
	assert.Nil(t, list[0].InputToken)
	assert.NotNil(t, list[0].CreatedAt)

	w = s.do(http.MethodGet, "/api/assets?kind=capture&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[[]dto.AssetResponse](t, w), 1)

	for _, target := range []string{"/api/assets?kind=thumbnail", "/api/assets?limit=0x", "/api/assets?limit=501"} {
		w = s.do(http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	w = s.do(http.MethodGet, "/api/assets?kind=replay", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestSubmitInference(t *testing.T) {
	s := newServer(t)
	token := uuid.New()

	w := s.do(http.MethodPost, "/api/jobs/inference", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pts := [4][2]float64{{20, 230}, {300, 230}, {60, 120}, {260, 120}}
	w = s.do(http.MethodPost, "/api/jobs/inference", dto.InferenceRequest{InputToken: token, Points: &pts})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotEqual(t, uuid.Nil, decode[dto.JobAccepted](t, w).JobId)
	assert.Equal(t, token, s.orch.inference.InputToken)
	require.NotNil(t, s.orch.inference.Points)
	assert.Equal(t, 260.0, s.orch.inference.Points[3].X)
	assert.Equal(t, 120.0, s.orch.inference.Points[3].Y)

	w = s.do(http.MethodPost, "/api/jobs/inference", dto.InferenceRequest{InputToken: token})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Nil(t, s.orch.inference.Points)

	s.orch.err = fmt.Errorf("inference job: %w", apperr.ErrJobAlreadyRunning)
	w = s.do(http.MethodPost, "/api/jobs/inference", dto.InferenceRequest{InputToken: token})
	assert.Equal(t, http.StatusConflict, w.Code)

	s.orch.err = fmt.Errorf("token: %w", apperr.ErrNotFound)
	w = s.do(http.MethodPost, "/api/jobs/inference", dto.InferenceRequest{InputToken: token})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitHighlightsAndStatus(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodPost, "/api/jobs/highlights", dto.HighlightsRequest{InputToken: uuid.New()})
	require.Equal(t, http.StatusAccepted, w.Code)

	s.orch.job = service.Job{
		ID:      uuid.New(),
		Kind:    constant.JobKindHighlights,
		Status:  constant.JobStatusComplete,
		Message: "2 of 8 rallies selected",
		Outputs: map[string]string{constant.OutputHighlights: "/media/outputs/j/highlights_match.mp4"},
	}
	w = s.do(http.MethodGet, "/api/jobs/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := decode[service.Job](t, w)
	assert.Equal(t, constant.JobStatusComplete, job.Status)
	assert.Equal(t, s.orch.job.Outputs, job.Outputs)
	assert.Equal(t, "2 of 8 rallies selected", job.Message)
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.ErrJobAlreadyRunning, http.StatusConflict},
		{fmt.Errorf("camera: %w", apperr.ErrResourceBusy), http.StatusConflict},
		{apperr.ErrInsufficientSamples, http.StatusPreconditionFailed},
		{apperr.ErrNoCalibrationData, http.StatusPreconditionFailed},
		{apperr.ErrNotFound, http.StatusNotFound},
		{apperr.ErrDegenerateConfiguration, http.StatusUnprocessableEntity},
		{errors.Join(apperr.ErrDetectionFailure, errors.New("timeout")), http.StatusUnprocessableEntity},
		{apperr.ErrInvalidInput, http.StatusBadRequest},
		{errors.Join(apperr.ErrDecode, errors.New("exit 1")), http.StatusBadGateway},
		{apperr.ErrEncode, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, StatusCode(tc.err), tc.err.Error())
	}
}

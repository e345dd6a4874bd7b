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
	"courtcam/pkg/detector"
	"courtcam/pkg/ffmpeg"
	"courtcam/repository"
	"courtcam/tracking"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTracker struct {
	track   tracking.Track
	err     error
	panics  bool
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeTracker) Track(ctx context.Context, videoPath string) (tracking.Track, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("model crashed")
	}
	return f.track, f.err
}

func (f *fakeTracker) Keypoints(ctx context.Context, imagePath string, confidence float64) ([]detector.Detection, error) {
	return nil, errors.New("keypoints are not served")
}

type recorder struct {
	mu     sync.Mutex
	events []dto.JobEvent
}

func (r *recorder) Publish(ctx context.Context, event dto.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) statuses() []constant.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []constant.JobStatus
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

type env struct {
	svc    Service
	repo   repository.AssetRepository
	lib    *media.Library
	events *recorder
}

func testConfig(root string) *config.Config {
	return &config.Config{
		Media:    config.Media{Root: root, URLPrefix: "/media"},
		Detector: config.Detector{AutoAttempts: 2},
		Pipeline: config.Pipeline{ReplayEnabled: true, ReplayBefore: 1, ReplayAfter: 0.5, ReplaySlowdown: 2},
		Highlights: config.Highlights{
			MaxGap:          30,
			MinLength:       5,
			MinShortestSecs: 3,
			SelectFraction:  0.25,
			ClipConcurrency: 2,
		},
	}
}

func newEnv(t *testing.T, tracker Tracker) *env {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.NewDB(config.Database{Driver: "sqlite", DSN: fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)}, "test")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewRepo(db)
	require.NoError(t, repo.Migrate(context.Background()))

	cfg := testConfig(t.TempDir())
	lib := media.New(cfg.Media)
	rec := &recorder{}
	svc := NewService(context.Background(), cfg, repo, lib, ffmpeg.New(config.FFmpeg{}), tracker, WithPublisher(rec))
	t.Cleanup(svc.Wait)
	return &env{svc: svc, repo: repo, lib: lib, events: rec}
}

func (e *env) token(t *testing.T, kind constant.AssetKind, rel string) uuid.UUID {
	t.Helper()
	a := &entities.Asset{Kind: kind, Path: rel}
	require.NoError(t, e.repo.CreateAsset(context.Background(), a))
	tok, err := e.repo.IssueToken(context.Background(), a.ID)
	require.NoError(t, err)
	return tok.Token
}

func (e *env) waitFinished(t *testing.T) Job {
	t.Helper()
	e.svc.Wait()
	j := e.svc.Status()
	require.NotEqual(t, constant.JobStatusRunning, j.Status)
	return j
}

func TestSecondJobIsRejectedWhileRunning(t *testing.T) {
	tracker := &fakeTracker{release: make(chan struct{}), err: fmt.Errorf("model offline: %w", apperr.ErrDetectionFailure)}
	e := newEnv(t, tracker)
	first := e.token(t, constant.AssetKindUpload, "uploads/a.mp4")
	second := e.token(t, constant.AssetKindUpload, "uploads/b.mp4")

	id, err := e.svc.SubmitInference(context.Background(), InferenceRequest{InputToken: first})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.svc.Status().Message == "tracking shuttle" }, 5*time.Second, 5*time.Millisecond)

	_, err = e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: second})
	require.ErrorIs(t, err, apperr.ErrJobAlreadyRunning)

	j := e.svc.Status()
	assert.Equal(t, id, j.ID)
	assert.Equal(t, constant.JobStatusRunning, j.Status)

	close(tracker.release)
	j = e.waitFinished(t)
	assert.Equal(t, constant.JobStatusError, j.Status)
	assert.Contains(t, j.Message, "model offline")
	assert.Nil(t, j.Outputs)

	// the rejected submission did not spend its token
	tracker.err = nil
	next, err := e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: second})
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
	e.waitFinished(t)
}

func TestHighlightsWithoutRallies(t *testing.T) {
	e := newEnv(t, &fakeTracker{track: tracking.Track{{Frame: 0}, {Frame: 1}, {Frame: 2}}})
	tok := e.token(t, constant.AssetKindRecording, "recordings/match.mp4")

	id, err := e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: tok})
	require.NoError(t, err)

	j := e.waitFinished(t)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, constant.JobStatusComplete, j.Status)
	assert.Equal(t, constant.JobKindHighlights, j.Kind)
	assert.Equal(t, "no rallies found", j.Message)
	assert.Empty(t, j.Outputs)
	assert.Equal(t, []constant.JobStatus{constant.JobStatusRunning, constant.JobStatusComplete}, e.events.statuses())
}

func TestTokenIsSpentBySubmission(t *testing.T) {
	e := newEnv(t, &fakeTracker{})
	tok := e.token(t, constant.AssetKindUpload, "uploads/a.mp4")

	_, err := e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: tok})
	require.NoError(t, err)
	e.waitFinished(t)

	_, err = e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: tok})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectedSubmissionKeepsPreviousStatus(t *testing.T) {
	e := newEnv(t, &fakeTracker{})

	_, err := e.svc.SubmitInference(context.Background(), InferenceRequest{InputToken: uuid.New()})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, constant.JobStatusIdle, e.svc.Status().Status)

	_, err = e.svc.SubmitInference(context.Background(), InferenceRequest{})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	still := e.token(t, constant.AssetKindCapture, "captures/still.jpg")
	_, err = e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: still})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, constant.JobStatusIdle, e.svc.Status().Status)
	assert.Empty(t, e.events.statuses())
}

func TestInvalidManualPoints(t *testing.T) {
	e := newEnv(t, &fakeTracker{})
	tok := e.token(t, constant.AssetKindUpload, "uploads/a.mp4")
	points := [4]homography.Point{{X: 1, Y: 1}, {X: math.NaN(), Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 1}}

	_, err := e.svc.SubmitInference(context.Background(), InferenceRequest{InputToken: tok, Points: &points})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	// validation happens before the token is spent
	_, err = e.repo.ConsumeToken(context.Background(), tok)
	require.NoError(t, err)
}

func TestInferenceOnUnreadableInput(t *testing.T) {
	e := newEnv(t, &fakeTracker{track: shuttleFlight(100)})
	tok := e.token(t, constant.AssetKindUpload, "uploads/missing.mp4")

	_, err := e.svc.SubmitInference(context.Background(), InferenceRequest{InputToken: tok})
	require.NoError(t, err)

	j := e.waitFinished(t)
	assert.Equal(t, constant.JobStatusError, j.Status)
	assert.NotEmpty(t, j.Message)
	assert.Nil(t, j.Outputs)
}

func TestPanickingWorkerFailsTheJob(t *testing.T) {
	e := newEnv(t, &fakeTracker{panics: true})
	tok := e.token(t, constant.AssetKindUpload, "uploads/a.mp4")

	_, err := e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: tok})
	require.NoError(t, err)

	j := e.waitFinished(t)
	assert.Equal(t, constant.JobStatusError, j.Status)
	assert.Contains(t, j.Message, "model crashed")
}

// shuttleFlight flies up and right, is hit back at frame 19 and lands at
// frame 59 on (58, 213), inside a 320x240 picture.
func shuttleFlight(frames int) tracking.Track {
	var t tracking.Track
	x, y := 100.0, 150.0
	for f := 0; f < frames; f++ {
		dx, dy := 2.0, -3.0
		if f >= 20 && f < 60 {
			dx, dy = -2, 3
		}
		if f > 0 {
			x += dx
			y += dy
		}
		t = append(t, tracking.Position{Frame: f, Visible: true, X: x, Y: y})
	}
	return t
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), "libx264") {
		t.Skip("ffmpeg with libx264 not installed")
	}
}

func testVideo(t *testing.T, lib *media.Library, frames int) string {
	t.Helper()
	dir, err := lib.Dir(constant.AssetKindUpload)
	require.NoError(t, err)
	out := filepath.Join(dir, "match.mp4")
	cmd := exec.Command("ffmpeg", "-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25",
		"-frames:v", fmt.Sprint(frames),
		"-c:v", "mpeg4", "-pix_fmt", "yuv420p",
		out)
	b, err := cmd.CombinedOutput()
	require.NoError(t, err, string(b))
	return "uploads/match.mp4"
}

func TestInferenceEndToEnd(t *testing.T) {
	requireFFmpeg(t)
	e := newEnv(t, &fakeTracker{track: shuttleFlight(100)})
	tok := e.token(t, constant.AssetKindUpload, testVideo(t, e.lib, 100))
	points := [4]homography.Point{{X: 20, Y: 230}, {X: 300, Y: 230}, {X: 60, Y: 120}, {X: 260, Y: 120}}

	id, err := e.svc.SubmitInference(context.Background(), InferenceRequest{InputToken: tok, Points: &points})
	require.NoError(t, err)

	j := e.waitFinished(t)
	require.Equal(t, constant.JobStatusComplete, j.Status, j.Message)
	assert.Contains(t, j.Message, "at frame 59")
	for _, key := range []string{
		constant.OutputOverlayVideo,
		constant.OutputReplayVideo,
		constant.OutputCourtFull,
		constant.OutputCourtZoom,
		constant.OutputTrackingCSV,
	} {
		u, ok := j.Outputs[key]
		require.True(t, ok, key)
		require.True(t, strings.HasPrefix(u, "/media/outputs/"+id.String()+"/"), u)
		assert.FileExists(t, e.lib.Abs(strings.TrimPrefix(u, "/media/")))
	}

	info, err := ffmpeg.New(config.FFmpeg{}).Describe(context.Background(), e.lib.Abs(strings.TrimPrefix(j.Outputs[constant.OutputOverlayVideo], "/media/")))
	require.NoError(t, err)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
}

func TestHighlightsEndToEnd(t *testing.T) {
	requireFFmpeg(t)
	var track tracking.Track
	for f := 0; f < 100; f++ {
		visible := (f >= 5 && f <= 30) || (f >= 70 && f <= 99)
		track = append(track, tracking.Position{Frame: f, Visible: visible, X: float64(f * 3), Y: 100})
	}
	e := newEnv(t, &fakeTracker{track: track})
	tok := e.token(t, constant.AssetKindUpload, testVideo(t, e.lib, 100))

	_, err := e.svc.SubmitHighlights(context.Background(), HighlightsRequest{InputToken: tok})
	require.NoError(t, err)

	j := e.waitFinished(t)
	require.Equal(t, constant.JobStatusComplete, j.Status, j.Message)
	assert.Equal(t, "1 of 2 rallies selected", j.Message)
	require.Contains(t, j.Outputs, constant.OutputHighlights)
	require.Contains(t, j.Outputs, constant.OutputLongest)
	// no selected rally lasts three seconds at 25 fps
	assert.NotContains(t, j.Outputs, constant.OutputShortest)
	for _, u := range j.Outputs {
		assert.FileExists(t, e.lib.Abs(strings.TrimPrefix(u, "/media/")))
	}
}

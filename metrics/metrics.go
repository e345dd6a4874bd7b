package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcam_jobs_total",
		Help: "Job transitions by kind and status",
	}, []string{"kind", "status"}) // status=running|complete|error

	jobStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courtcam_job_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900},
	}, []string{"kind", "stage"})

	ffmpegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtcam_ffmpeg_failures_total",
		Help: "ffmpeg and ffprobe invocations that exited non-zero",
	}, []string{"operation"})

	cameraState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "courtcam_camera_state",
		Help: "Current camera state (1 for the active state)",
	}, []string{"state"})

	calibrationSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courtcam_calibration_samples",
		Help: "Accepted checkerboard samples in the current session",
	})

	calibrationRMS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courtcam_calibration_rms_pixels",
		Help: "Reprojection error of the last solved calibration",
	})

	undistortDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "courtcam_undistort_duration_seconds",
		Help:    "Wall time of undistortion requests by mode",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"mode"})
)

var cameraStates = []string{"idle", "previewing", "recording"}

func RecordJob(kind, status string) { jobsTotal.WithLabelValues(kind, status).Inc() }

func ObserveStage(kind, stage string, started time.Time) {
	jobStageDuration.WithLabelValues(kind, stage).Observe(time.Since(started).Seconds())
}

func IncFFmpegFailure(operation string) { ffmpegFailures.WithLabelValues(operation).Inc() }

func SetCameraState(state string) {
	for _, s := range cameraStates {
		v := 0.0
		if s == state {
			v = 1
		}
		cameraState.WithLabelValues(s).Set(v)
	}
}

func RecordCalibrationSamples(n int) { calibrationSamples.Set(float64(n)) }

func RecordCalibrationRMS(rms float64) { calibrationRMS.Set(rms) }

func ObserveUndistort(mode string, started time.Time) {
	undistortDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

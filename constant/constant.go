package constant

type JobStatus string

const (
	JobStatusIdle     JobStatus = "idle"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

type JobKind string

const (
	JobKindInference  JobKind = "inference"
	JobKindHighlights JobKind = "highlights"
)

type CameraState string

const (
	CameraStateIdle       CameraState = "idle"
	CameraStatePreviewing CameraState = "previewing"
	CameraStateRecording  CameraState = "recording"
)

type UndistortMode string

const (
	UndistortModeQuick UndistortMode = "quick"
	UndistortModeFull  UndistortMode = "full"
)

func (m UndistortMode) Valid() bool {
	return m == UndistortModeQuick || m == UndistortModeFull
}

type AssetKind string

const (
	AssetKindCapture     AssetKind = "capture"
	AssetKindCalibration AssetKind = "calibration"
	AssetKindRecording   AssetKind = "recording"
	AssetKindUpload      AssetKind = "upload"
	AssetKindUndistorted AssetKind = "undistorted"
	AssetKindReplay      AssetKind = "replay"
	AssetKindDerived     AssetKind = "derived"
)

// Video reports whether assets of kind are video files.
func (k AssetKind) Video() bool {
	switch k {
	case AssetKindRecording, AssetKindUpload, AssetKindUndistorted, AssetKindReplay:
		return true
	}
	return false
}

// Output keys published on a completed job.
const (
	OutputOverlayVideo = "overlay_video"
	OutputReplayVideo  = "replay_video"
	OutputCourtFull    = "court_full"
	OutputCourtZoom    = "court_zoom"
	OutputTrackingCSV  = "tracking_csv"
	OutputHighlights   = "highlights"
	OutputLongest      = "longest"
	OutputShortest     = "shortest"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Package apperr holds the error taxonomy shared by every courtcam component.
// Callers match with errors.Is; components wrap these with context via fmt.Errorf("...: %w").
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceBusy is returned when the camera or the job slot is already held.
	ErrResourceBusy = errors.New("resource busy")
	// ErrJobAlreadyRunning is the job-slot flavour of ErrResourceBusy.
	ErrJobAlreadyRunning = fmt.Errorf("job already running: %w", ErrResourceBusy)

	ErrInsufficientSamples     = errors.New("insufficient calibration samples")
	ErrNoCalibrationData       = errors.New("calibration data not found")
	ErrDegenerateConfiguration = errors.New("degenerate point configuration")

	// ErrDecode and ErrEncode carry transcoder failures verbatim.
	ErrDecode = errors.New("decode failed")
	ErrEncode = errors.New("encode failed")

	ErrDetectionFailure = errors.New("detection failed")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

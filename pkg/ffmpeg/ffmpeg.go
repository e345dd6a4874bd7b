// Package ffmpeg runs the ffmpeg and ffprobe binaries: one-shot commands, stream
// probing, and raw bgr24 frame pipes in both directions.
package ffmpeg

import (
	"context"
	"courtcam/config"
	"courtcam/metrics"
	"fmt"
	"github.com/rs/zerolog"
	"os/exec"
	"strings"
)

const stderrTail = 2048

type Runner struct {
	Binary        string
	FFprobeBinary string
}

func New(cfg config.FFmpeg) *Runner {
	r := &Runner{Binary: cfg.Binary, FFprobeBinary: cfg.FFprobeBinary}
	if r.Binary == "" {
		r.Binary = "ffmpeg"
	}
	if r.FFprobeBinary == "" {
		r.FFprobeBinary = "ffprobe"
	}
	return r
}

// ExitError is a non-zero exit of an ffmpeg process with the tail of its output.
type ExitError struct {
	Op     string
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("ffmpeg %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ffmpeg %s failed: %v: %s", e.Op, e.Err, e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes ffmpeg with args. op names the invocation in logs and metrics.
func (r *Runner) Run(ctx context.Context, op string, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, r.Binary, full...)
	zerolog.Ctx(ctx).Debug().Str("op", op).Msgf("Executing FFmpeg command: %s %s", r.Binary, strings.Join(full, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		metrics.IncFFmpegFailure(op)
		zerolog.Ctx(ctx).Error().Str("op", op).Str("output", tail(output)).Msg("ffmpeg failed")
		return &ExitError{Op: op, Output: tail(output), Err: err}
	}
	return nil
}

// ExtractFrame writes frame index (zero based) of input to an image file.
func (r *Runner) ExtractFrame(ctx context.Context, input string, index int, output string) error {
	return r.Run(ctx, "extract_frame",
		"-i", input,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-vsync", "0",
		"-frames:v", "1",
		"-q:v", "2",
		output,
	)
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTail {
		t.buf = t.buf[len(t.buf)-stderrTail:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

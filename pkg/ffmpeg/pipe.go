package ffmpeg

import (
	"bufio"
	"context"
	"courtcam/metrics"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// PixelFormat is the raw layout of piped frames, OpenCV's native channel order.
const PixelFormat = "bgr24"

// FrameReader decodes a video into packed bgr24 frames.
type FrameReader struct {
	cmd    *exec.Cmd
	r      *bufio.Reader
	stderr *tailBuffer
	size   int
	eof    bool
}

// OpenReader starts a decoder for input. inputOpts are placed before -i, for
// example to select a capture device format.
func (r *Runner) OpenReader(ctx context.Context, input string, width, height int, inputOpts ...string) (*FrameReader, error) {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, inputOpts...)
	args = append(args,
		"-i", input,
		"-f", "rawvideo",
		"-pix_fmt", PixelFormat,
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-",
	)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg decoder: %w", err)
	}
	return &FrameReader{
		cmd:    cmd,
		r:      bufio.NewReaderSize(out, 1<<20),
		stderr: stderr,
		size:   width * height * 3,
	}, nil
}

// Next fills buf with the next frame. It returns io.EOF after the last frame.
func (f *FrameReader) Next(buf []byte) error {
	if len(buf) != f.size {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(buf), f.size)
	}
	_, err := io.ReadFull(f.r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		f.eof = true
		return io.EOF
	}
	return err
}

func (f *FrameReader) FrameSize() int { return f.size }

// Close stops the decoder. Closing before the last frame kills the process
// and is not reported as a failure.
func (f *FrameReader) Close() error {
	if !f.eof {
		_ = f.cmd.Process.Kill()
		_ = f.cmd.Wait()
		return nil
	}
	if err := f.cmd.Wait(); err != nil {
		metrics.IncFFmpegFailure("decode")
		return &ExitError{Op: "decode", Output: f.stderr.String(), Err: err}
	}
	return nil
}

// FrameWriter encodes packed bgr24 frames written to it.
type FrameWriter struct {
	cmd    *exec.Cmd
	in     io.WriteCloser
	w      *bufio.Writer
	stderr *tailBuffer
	op     string
}

// OpenWriter starts an encoder for output. outArgs are placed between the raw
// input and the output path.
func (r *Runner) OpenWriter(ctx context.Context, op, output string, width, height int, fps float64, outArgs ...string) (*FrameWriter, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", PixelFormat,
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
	}
	args = append(args, outArgs...)
	args = append(args, output)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}
	return &FrameWriter{
		cmd:    cmd,
		in:     in,
		w:      bufio.NewWriterSize(in, 1<<20),
		stderr: stderr,
		op:     op,
	}, nil
}

func (f *FrameWriter) Write(frame []byte) error {
	_, err := f.w.Write(frame)
	return err
}

// Close flushes stdin and waits for the encoder to finish the file.
func (f *FrameWriter) Close() error {
	flushErr := f.w.Flush()
	closeErr := f.in.Close()
	if err := f.cmd.Wait(); err != nil {
		metrics.IncFFmpegFailure(f.op)
		return &ExitError{Op: f.op, Output: f.stderr.String(), Err: err}
	}
	return errors.Join(flushErr, closeErr)
}

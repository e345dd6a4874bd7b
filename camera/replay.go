package camera

import (
	"context"
	"courtcam/apperr"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// InstantReplay clips the most recent play without taking the camera. While
// recording it wraps the tail of the raw stream; otherwise it trims the end of
// the newest finished recording.
func (r *Resource) InstantReplay(ctx context.Context, dir string) (Asset, error) {
	r.mu.Lock()
	rec := r.rec
	last := r.lastRecording
	r.mu.Unlock()

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return Asset{}, err
	}
	out := filepath.Join(dir, fmt.Sprintf("replay_%s.mp4", time.Now().Format("20060102_150405")))

	if rec != nil {
		tmp, err := os.CreateTemp(filepath.Dir(rec.rawPath), "replay_tail_*.h264")
		if err != nil {
			return Asset{}, fmt.Errorf("create replay tail: %w", err)
		}
		defer os.Remove(tmp.Name())
		err = copyTail(rec.rawPath, tmp, r.cfg.ReplayTailBytes)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return Asset{}, fmt.Errorf("read recording tail: %w", err)
		}
		if err := r.remux(ctx, tmp.Name(), out, rec.fps); err != nil {
			return Asset{}, errors.Join(apperr.ErrEncode, err)
		}
		zerolog.Ctx(ctx).Info().Str("source", rec.rawPath).Str("path", out).Msg("replay created from active recording")
		return Asset{Path: out, Width: rec.width, Height: rec.height, CreatedAt: time.Now()}, nil
	}

	if last == "" {
		last = latestFile(r.recordingsDir, ".mp4")
	}
	if last == "" {
		return Asset{}, fmt.Errorf("no recording available for replay: %w", apperr.ErrNotFound)
	}

	seconds := r.cfg.ReplaySeconds
	if seconds <= 0 {
		seconds = 30
	}
	err := r.runner.Run(ctx, "replay",
		"-sseof", "-"+strconv.Itoa(seconds),
		"-i", last,
		"-c", "copy",
		out,
	)
	if err != nil {
		return Asset{}, errors.Join(apperr.ErrEncode, err)
	}
	width, height, _ := r.driver.Format()
	zerolog.Ctx(ctx).Info().Str("source", last).Str("path", out).Msg("replay created from recording")
	return Asset{Path: out, Width: width, Height: height, CreatedAt: time.Now()}, nil
}

// copyTail copies the last n bytes of src, or all of it when n is not
// positive, to dst.
func copyTail(src string, dst io.Writer, n int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if n > 0 && info.Size() > n {
		if _, err := in.Seek(-n, io.SeekEnd); err != nil {
			return err
		}
	}

	_, err = io.Copy(dst, in)
	return err
}

func latestFile(dir, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest
}

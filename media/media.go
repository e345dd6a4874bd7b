// Package media lays out produced files under one root that is served over
// HTTP, and turns paths into URLs.
package media

import (
	"courtcam/config"
	"courtcam/constant"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var subdirs = map[constant.AssetKind]string{
	constant.AssetKindCapture:     "captures",
	constant.AssetKindCalibration: "calibration_frames",
	constant.AssetKindRecording:   "recordings",
	constant.AssetKindUpload:      "uploads",
	constant.AssetKindUndistorted: "undistorted",
	constant.AssetKindReplay:      "replays",
	constant.AssetKindDerived:     "outputs",
}

type Library struct {
	Root      string
	URLPrefix string
}

func New(cfg config.Media) *Library {
	prefix := "/" + strings.Trim(cfg.URLPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return &Library{Root: filepath.Clean(cfg.Root), URLPrefix: prefix}
}

// Dir returns the directory for assets of kind, creating it if needed.
func (l *Library) Dir(kind constant.AssetKind) (string, error) {
	sub, ok := subdirs[kind]
	if !ok {
		return "", fmt.Errorf("unknown asset kind %q", kind)
	}
	dir := filepath.Join(l.Root, sub)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}
	return dir, nil
}

// JobDir is the output directory of one job.
func (l *Library) JobDir(jobId string) (string, error) {
	base, err := l.Dir(constant.AssetKindDerived)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, jobId)
	return dir, os.MkdirAll(dir, os.ModePerm)
}

// Rel returns p relative to the root. Paths outside the root are rejected.
func (l *Library) Rel(p string) (string, error) {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the media root", p)
	}
	return filepath.ToSlash(rel), nil
}

// Abs resolves a root-relative path.
func (l *Library) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// URL returns the public URL of p, which must lie under the root.
func (l *Library) URL(p string) (string, error) {
	rel, err := l.Rel(p)
	if err != nil {
		return "", err
	}
	return path.Join(l.URLPrefix+"/", rel), nil
}

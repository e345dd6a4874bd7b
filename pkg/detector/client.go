// Package detector talks to the model service that tracks the shuttle and
// finds court keypoints. Both models run out of process; this client only
// moves paths and results.
package detector

import (
	"bytes"
	"context"
	"courtcam/apperr"
	"courtcam/config"
	"courtcam/tracking"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Keypoint classes reported by the court model.
const (
	ClassBaselineCorner = 2
	ClassServiceCorner  = 3
)

const maxErrorBody = 1024

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(cfg config.Detector) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type trackRequest struct {
	VideoPath string `json:"video_path"`
}

type keypointRequest struct {
	ImagePath  string  `json:"image_path"`
	Confidence float64 `json:"confidence"`
}

type Detection struct {
	Class      int        `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Center is the middle of the detection box.
func (d Detection) Center() (float64, float64) {
	return (d.Box[0] + d.Box[2]) / 2, (d.Box[1] + d.Box[3]) / 2
}

type keypointResponse struct {
	Detections []Detection `json:"detections"`
}

// Track asks the model service for per-frame shuttle positions of a video.
// The service answers with the Frame,Visibility,X,Y CSV.
func (c *Client) Track(ctx context.Context, videoPath string) (tracking.Track, error) {
	body, err := c.post(ctx, "/track", trackRequest{VideoPath: videoPath})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	t, err := tracking.ReadCSV(body)
	if err != nil {
		return nil, errors.Join(apperr.ErrDetectionFailure, err)
	}
	zerolog.Ctx(ctx).Info().Str("video", videoPath).Int("frames", len(t)).Int("visible", t.Visible()).Msg("shuttle track received")
	return t, nil
}

// Keypoints returns the court keypoint detections of a still frame.
func (c *Client) Keypoints(ctx context.Context, imagePath string, confidence float64) ([]Detection, error) {
	body, err := c.post(ctx, "/court/keypoints", keypointRequest{ImagePath: imagePath, Confidence: confidence})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp keypointResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode keypoints: %w", errors.Join(apperr.ErrDetectionFailure, err))
	}
	return resp.Detections, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model service %s: %w", path, errors.Join(apperr.ErrDetectionFailure, err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("model service %s returned %d: %s: %w", path, resp.StatusCode, strings.TrimSpace(string(msg)), apperr.ErrDetectionFailure)
	}
	return resp.Body, nil
}

// Corners picks the four correspondence points from one frame's detections:
// the two most confident baseline corners and the two most confident service
// line corners, each pair ordered left to right. ok is false when either class
// has fewer than two detections.
func Corners(dets []Detection) (corners [4][2]float64, ok bool) {
	base := top2(dets, ClassBaselineCorner)
	service := top2(dets, ClassServiceCorner)
	if len(base) < 2 || len(service) < 2 {
		return corners, false
	}
	corners[0], corners[1] = leftRight(base[0], base[1])
	corners[2], corners[3] = leftRight(service[0], service[1])
	return corners, true
}

func top2(dets []Detection, class int) []Detection {
	var out []Detection
	for _, d := range dets {
		if d.Class == class {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

func leftRight(a, b Detection) ([2]float64, [2]float64) {
	ax, ay := a.Center()
	bx, by := b.Center()
	if bx < ax {
		return [2]float64{bx, by}, [2]float64{ax, ay}
	}
	return [2]float64{ax, ay}, [2]float64{bx, by}
}

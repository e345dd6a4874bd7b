package service

import (
	"context"
	"courtcam/apperr"
	"courtcam/homography"
	"courtcam/pkg/canvas"
	"courtcam/pkg/ffmpeg"
	"courtcam/tracking"
	"errors"
	"gocv.io/x/gocv"
	"image/color"
	"io"
)

// scene is what gets painted on every frame of the overlay video. Court
// geometry is projected into the image once.
type scene struct {
	track   tracking.Track
	lines   [][2]homography.Point
	zone    [][2]float64
	landing tracking.Position
	verdict string
	colour  color.RGBA
}

func newScene(t homography.Transform, track tracking.Track, landing tracking.Position, in bool) (*scene, error) {
	inv, err := t.Inverse()
	if err != nil {
		return nil, err
	}
	zone, err := homography.ImageZone(t)
	if err != nil {
		return nil, err
	}

	sc := &scene{track: track, landing: landing}
	for _, l := range homography.CourtLines {
		sc.lines = append(sc.lines, [2]homography.Point{inv.Project(l.From), inv.Project(l.To)})
	}
	for _, p := range zone {
		sc.zone = append(sc.zone, [2]float64{p.X, p.Y})
	}
	sc.verdict, sc.colour = homography.Verdict(in)
	return sc, nil
}

func (sc *scene) draw(img *gocv.Mat, frame int) {
	for _, l := range sc.lines {
		canvas.Line(img, l[0].X, l[0].Y, l[1].X, l[1].Y, 2, canvas.White)
	}
	canvas.Polygon(img, sc.zone, 2, canvas.Cyan)

	if pos, ok := sc.track.At(frame); ok && pos.Visible {
		shuttleDot(img, pos)
	}
	if frame >= sc.landing.Frame {
		canvas.Disc(img, sc.landing.X, sc.landing.Y, 10, canvas.Blue)
		canvas.Label(img, sc.verdict, 20, 20, 1.2, 3, sc.colour)
	}
}

func shuttleDot(img *gocv.Mat, pos tracking.Position) {
	canvas.Disc(img, pos.X, pos.Y, 6, canvas.Red)
}

// span selects source frames First..Last inclusive. A negative Last reads to
// the end of the video.
type span struct {
	First int
	Last  int
}

func (s span) done(frame int) bool { return s.Last >= 0 && frame > s.Last }

// paintVideo decodes the span of input, calls paint with every frame and its
// source index, and encodes the result to output. outArgs follow the raw
// frame input on the encoder command line.
func (s *service) paintVideo(ctx context.Context, op, input string, info ffmpeg.StreamInfo, sp span, paint func(*gocv.Mat, int), output string, outArgs ...string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var inputOpts []string
	if sp.First > 0 {
		// seek half a frame early so rounding never skips the first frame
		inputOpts = append(inputOpts, "-ss", formatSeconds((float64(sp.First)-0.5)/info.FPS))
	}
	reader, err := s.runner.OpenReader(ctx, input, info.Width, info.Height, inputOpts...)
	if err != nil {
		return errors.Join(apperr.ErrDecode, err)
	}
	writer, err := s.runner.OpenWriter(ctx, op, output, info.Width, info.Height, info.FPS, outArgs...)
	if err != nil {
		reader.Close()
		return errors.Join(apperr.ErrEncode, err)
	}

	fail := func(err error) error {
		cancel()
		writer.Close()
		reader.Close()
		return errors.Join(apperr.ErrEncode, err)
	}

	buf := make([]byte, reader.FrameSize())
	for frame := sp.First; !sp.done(frame); frame++ {
		err := reader.Next(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		img, err := canvas.FromBGR(buf, info.Width, info.Height)
		if err != nil {
			return fail(err)
		}
		paint(&img, frame)
		err = writer.Write(img.ToBytes())
		img.Close()
		if err != nil {
			return fail(err)
		}
	}

	if err := reader.Close(); err != nil {
		writer.Close()
		return errors.Join(apperr.ErrDecode, err)
	}
	if err := writer.Close(); err != nil {
		return errors.Join(apperr.ErrEncode, err)
	}
	return nil
}

// renderOverlay paints the scene on every frame of input.
func (s *service) renderOverlay(ctx context.Context, input string, info ffmpeg.StreamInfo, track tracking.Track, t homography.Transform, landing tracking.Position, in bool, output string) error {
	sc, err := newScene(t, track, landing, in)
	if err != nil {
		return err
	}
	return s.paintVideo(ctx, "overlay", input, info, span{First: 0, Last: -1}, sc.draw, output, webProfile.videoArgs()...)
}

package service

import (
	"context"
	"courtcam/constant"
	"courtcam/entities"
	"courtcam/rally"
	"fmt"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"os"
	"path/filepath"
	"strings"
)

func (s *service) highlightOptions() (rally.Options, float64) {
	opts := rally.DefaultOptions()
	if s.cfg.Highlights.MaxGap > 0 {
		opts.MaxGap = s.cfg.Highlights.MaxGap
	}
	if s.cfg.Highlights.MinLength > 0 {
		opts.MinLength = s.cfg.Highlights.MinLength
	}
	fraction := s.cfg.Highlights.SelectFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.25
	}
	return opts, fraction
}

func (s *service) runHighlights(ctx context.Context, p *progress, asset *entities.Asset) (map[string]string, string, error) {
	input := s.media.Abs(asset.Path)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	p.step(ctx, "track", "tracking shuttle")
	track, err := s.tracker.Track(ctx, input)
	if err != nil {
		return nil, "", err
	}

	p.step(ctx, "segment", "segmenting rallies")
	opts, fraction := s.highlightOptions()
	rallies := rally.Segment(track, opts)
	if len(rallies) == 0 {
		zerolog.Ctx(ctx).Info().Int("positions", len(track)).Msg("no rallies found")
		return nil, "no rallies found", nil
	}

	info, err := s.describeAsset(ctx, input)
	if err != nil {
		return nil, "", err
	}
	sel := rally.Select(rallies, fraction, info.FPS, s.cfg.Highlights.MinShortestSecs)
	zerolog.Ctx(ctx).Info().
		Int("rallies", len(rallies)).
		Int("selected", len(sel.Highlights)).
		Msg("rallies ranked")

	jobDir, err := s.media.JobDir(p.id.String())
	if err != nil {
		return nil, "", err
	}

	type cut struct {
		r      rally.Rally
		output string
	}
	var cuts []cut
	parts := make([]string, len(sel.Highlights))
	for i, r := range sel.Highlights {
		parts[i] = filepath.Join(jobDir, fmt.Sprintf("rally_%03d.mp4", i))
		cuts = append(cuts, cut{r: r, output: parts[i]})
	}
	outputs := map[string]string{
		constant.OutputHighlights: filepath.Join(jobDir, "highlights_"+stem+".mp4"),
	}
	if sel.Longest != nil {
		outputs[constant.OutputLongest] = filepath.Join(jobDir, "longest_"+stem+".mp4")
		cuts = append(cuts, cut{r: *sel.Longest, output: outputs[constant.OutputLongest]})
	}
	if sel.Shortest != nil {
		outputs[constant.OutputShortest] = filepath.Join(jobDir, "shortest_"+stem+".mp4")
		cuts = append(cuts, cut{r: *sel.Shortest, output: outputs[constant.OutputShortest]})
	}

	p.step(ctx, "clips", fmt.Sprintf("cutting %d clips", len(cuts)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Highlights.ClipConcurrency, 1))
	for _, c := range cuts {
		g.Go(func() error {
			return s.cutClip(gctx, input, info, c.r, c.output)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	p.step(ctx, "concat", "joining highlights")
	if err := s.concatClips(ctx, parts, outputs[constant.OutputHighlights]); err != nil {
		return nil, "", err
	}
	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", part).Msg("failed to remove rally clip")
		}
	}

	return outputs, fmt.Sprintf("%d of %d rallies selected", len(sel.Highlights), len(rallies)), nil
}

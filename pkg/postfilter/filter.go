// Package postfilter rejects implausible detections and removes duplicates.
package postfilter

import (
	"fmt"

	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/gen"
	"github.com/cyclopcam/splitcam/pkg/nn"
	"github.com/samber/lo"
)

// Params are the bounds applied by Filter. All of them are inclusive.
type Params struct {
	MinArea  int
	MaxArea  int
	MinRatio float32 // width / height
	MaxRatio float32 // width / height
	MinScore float32
	NmsIoU   float32 // Boxes overlapping a better box by at least this much are dropped
}

func NewParams(c *config.FilterConfig) Params {
	return Params{
		MinArea:  c.MinArea,
		MaxArea:  c.MaxArea,
		MinRatio: c.MinRatio,
		MaxRatio: c.MaxRatio,
		MinScore: c.MinScore,
		NmsIoU:   c.NmsIoU,
	}
}

// Stats counts how many detections each stage removed
type Stats struct {
	Input    int
	Area     int
	Ratio    int
	Score    int
	Overlap  int
	Retained int
}

func (s Stats) String() string {
	return fmt.Sprintf("%v in, rejected area %v, ratio %v, score %v, overlap %v, %v kept", s.Input, s.Area, s.Ratio, s.Score, s.Overlap, s.Retained)
}

type Filter struct {
	Params Params
}

func NewFilter(params Params) *Filter {
	return &Filter{Params: params}
}

func (f *Filter) AreaOK(d frame.Detection) bool {
	return gen.InRange(d.Box.Area(), f.Params.MinArea, f.Params.MaxArea)
}

// A zero height has ratio 0, which is always rejected
func (f *Filter) RatioOK(d frame.Detection) bool {
	ratio := d.Box.AspectRatio()
	return ratio > 0 && gen.InRange(ratio, f.Params.MinRatio, f.Params.MaxRatio)
}

func (f *Filter) ScoreOK(d frame.Detection) bool {
	return d.Confidence >= f.Params.MinScore
}

// Apply runs the area, ratio, score and NMS stages in that order, on the detections of one region.
// The result is ordered by descending confidence, with ties in input order.
func (f *Filter) Apply(dets []frame.Detection) ([]frame.Detection, Stats) {
	stats := Stats{Input: len(dets)}

	stage := func(in []frame.Detection, ok func(frame.Detection) bool, rejected *int) []frame.Detection {
		out := lo.Filter(in, func(d frame.Detection, _ int) bool { return ok(d) })
		*rejected = len(in) - len(out)
		return out
	}
	kept := stage(dets, f.AreaOK, &stats.Area)
	kept = stage(kept, f.RatioOK, &stats.Ratio)
	kept = stage(kept, f.ScoreOK, &stats.Score)

	final := f.Suppress(kept)
	stats.Overlap = len(kept) - len(final)
	stats.Retained = len(final)
	return final, stats
}

// Suppress runs only the NMS stage
func (f *Filter) Suppress(dets []frame.Detection) []frame.Detection {
	objects := lo.Map(dets, func(d frame.Detection, _ int) nn.ObjectDetection { return d.ObjectDetection })
	retain := nn.SuppressOverlaps(objects, f.Params.NmsIoU)
	return lo.Map(retain, func(i int, _ int) frame.Detection { return dets[i] })
}

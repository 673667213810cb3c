package sampler

import (
	"context"
	"fmt"

	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/frame"
)

// SweepEntry is the result of one confidence pair applied to the sweep frame
type SweepEntry struct {
	Thresholds Thresholds
	Result     *SampleResult
}

func (e SweepEntry) String() string {
	return fmt.Sprintf("top %.2f bottom %.2f: %v detections (top %v, bottom %v)",
		e.Thresholds.Top, e.Thresholds.Bottom, e.Result.TotalCount, e.Result.CountIn(frame.Top), e.Result.CountIn(frame.Bottom))
}

// ThresholdsFromPairs converts configured confidence pairs
func ThresholdsFromPairs(pairs []config.ConfidencePair) []Thresholds {
	out := make([]Thresholds, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Thresholds{Top: p.Top, Bottom: p.Bottom})
	}
	return out
}

// Sweep acquires a single frame, and runs the pipeline over it once for each pair of thresholds
func (a *Aggregator) Sweep(ctx context.Context, pairs []Thresholds) ([]SweepEntry, error) {
	f, err := a.source.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	entries := []SweepEntry{}
	for i, t := range pairs {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		res := a.pipeline.ProcessFrame(f, t)
		if res.FrameErr != nil {
			return entries, res.FrameErr
		}
		res.Index = i
		e := SweepEntry{Thresholds: t, Result: res}
		a.log.Infof("Sweep %v", e)
		for _, sink := range a.sinks {
			if err := sink.RecordSample(res); err != nil {
				a.log.Warnf("Failed to record sweep entry %v: %v", i, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

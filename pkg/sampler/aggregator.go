package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/perfstats"
	"github.com/cyclopcam/splitcam/pkg/source"
)

// ErrExhausted is returned by Run when acquisition failed for every sample
var ErrExhausted = errors.New("No sample could be acquired")

// SampleSink receives every sample as soon as it has been processed
type SampleSink interface {
	RecordSample(s *SampleResult) error
}

// BestResult is the sample with the most detections. Ties keep the first one seen.
type BestResult struct {
	Sample *SampleResult // nil until a sample has been processed
}

func (b *BestResult) Empty() bool {
	return b.Sample == nil
}

func (b *BestResult) TotalCount() int {
	if b.Sample == nil {
		return 0
	}
	return b.Sample.TotalCount
}

// Offer replaces the best sample if s has strictly more detections than the best so far.
// An empty BestResult counts as zero, so it stays empty until some sample finds something.
// Returns true if s became the best.
func (b *BestResult) Offer(s *SampleResult) bool {
	if !s.Processed() || s.TotalCount <= b.TotalCount() {
		return false
	}
	b.Sample = s
	return true
}

// Report summarizes a run
type Report struct {
	Requested           int
	Attempts            int
	Processed           int
	AcquisitionFailures int
	DegenerateFrames    int
	DetectionFailures   int // Regions that could not be determined
	Samples             []*SampleResult
	Best                BestResult
	AcquireTime         perfstats.TimeAccumulator // Successful acquisitions only
	ProcessTime         perfstats.TimeAccumulator // Split to remap, for processed frames
	Started             time.Time
	Finished            time.Time
}

func (r *Report) String() string {
	s := fmt.Sprintf("%v/%v samples processed, %v acquisition failures, %v degenerate frames, %v region detection failures, best %v detections",
		r.Processed, r.Attempts, r.AcquisitionFailures, r.DegenerateFrames, r.DetectionFailures, r.Best.TotalCount())
	if !r.Best.Empty() {
		s += fmt.Sprintf(" (sample %v: top %v, bottom %v)", r.Best.Sample.Index, r.Best.Sample.CountIn(frame.Top), r.Best.Sample.CountIn(frame.Bottom))
	}
	return s
}

// TimingSummary describes how long acquisition and processing took
func (r *Report) TimingSummary() string {
	return fmt.Sprintf("acquire: %v. process: %v", &r.AcquireTime, &r.ProcessTime)
}

// FailureSummary lists the acquisition failure reasons of every failed sample
func (r *Report) FailureSummary() string {
	lines := []string{}
	for _, s := range r.Samples {
		if s.AcquisitionErr == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("sample %v:", s.Index))
		var failure *source.AcquisitionFailure
		if errors.As(s.AcquisitionErr, &failure) {
			lines = append(lines, failure.Summary())
		} else {
			lines = append(lines, "  "+s.AcquisitionErr.Error())
		}
	}
	return strings.Join(lines, "\n")
}

// Aggregator runs the pipeline over n acquisitions, and keeps the best sample
type Aggregator struct {
	log        logs.Log
	clock      clock.Clock
	source     FrameSource
	pipeline   *Pipeline
	thresholds Thresholds
	retryDelay time.Duration // Pause after a failed acquisition
	sinks      []SampleSink
}

func NewAggregator(log logs.Log, clock clock.Clock, source FrameSource, pipeline *Pipeline, thresholds Thresholds, retryDelay time.Duration) *Aggregator {
	return &Aggregator{
		log:        log,
		clock:      clock,
		source:     source,
		pipeline:   pipeline,
		thresholds: thresholds,
		retryDelay: retryDelay,
	}
}

// AddSink registers a receiver for every sample
func (a *Aggregator) AddSink(sink SampleSink) {
	a.sinks = append(a.sinks, sink)
}

// Run performs n sampling iterations. The report is always returned, even with an error.
// If the context is cancelled, the samples taken so far are reported along with the context's error.
func (a *Aggregator) Run(ctx context.Context, n int) (*Report, error) {
	report := &Report{
		Requested: n,
		Started:   a.clock.Now(),
		Samples:   []*SampleResult{},
	}
	defer func() {
		report.Finished = a.clock.Now()
	}()
	if n <= 0 {
		return report, fmt.Errorf("Sample count must be positive, not %v", n)
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempts++
		s := a.sample(ctx, i, report)
		if errors.Is(s.AcquisitionErr, context.Canceled) || errors.Is(s.AcquisitionErr, context.DeadlineExceeded) {
			report.Attempts--
			return report, s.AcquisitionErr
		}
		report.Samples = append(report.Samples, s)

		switch {
		case s.AcquisitionErr != nil:
			report.AcquisitionFailures++
			a.log.Warnf("Sample %v: acquisition failed: %v", i, s.AcquisitionErr)
		case s.FrameErr != nil:
			report.DegenerateFrames++
			a.log.Warnf("Sample %v: frame discarded: %v", i, s.FrameErr)
		default:
			report.Processed++
			for _, r := range s.Regions {
				if r.DetectErr != nil {
					report.DetectionFailures++
				}
			}
			a.log.Infof("Sample %v: %v detections (top %v, bottom %v)", i, s.TotalCount, s.CountIn(frame.Top), s.CountIn(frame.Bottom))
		}

		for _, sink := range a.sinks {
			if err := sink.RecordSample(s); err != nil {
				a.log.Warnf("Failed to record sample %v: %v", i, err)
			}
		}

		previous := report.Best.Sample
		if report.Best.Offer(s) {
			if previous != nil {
				previous.Frame = nil
			}
		} else {
			s.Frame = nil
		}

		if s.AcquisitionErr != nil && a.retryDelay > 0 && i < n-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-a.clock.After(a.retryDelay):
			}
		}
	}

	if report.AcquisitionFailures == report.Attempts {
		return report, ErrExhausted
	}
	return report, nil
}

func (a *Aggregator) sample(ctx context.Context, index int, report *Report) *SampleResult {
	start := a.clock.Now()
	f, err := a.source.Acquire(ctx)
	if err != nil {
		return &SampleResult{
			Index:          index,
			Time:           a.clock.Now(),
			AcquisitionErr: err,
			Detections:     []frame.RemappedDetection{},
		}
	}
	report.AcquireTime.AddSample(a.clock.Since(start))

	start = a.clock.Now()
	s := a.pipeline.ProcessFrame(f, a.thresholds)
	s.Index = index
	if s.Processed() {
		report.ProcessTime.AddSample(a.clock.Since(start))
	}
	return s
}

// Package sampler runs the split-frame detection pipeline over one or more acquired frames.
package sampler

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/postfilter"
	"github.com/cyclopcam/splitcam/pkg/preprocess"
	"github.com/samber/lo"
)

// FrameSource produces frames. Satisfied by *source.Source.
type FrameSource interface {
	Acquire(ctx context.Context) (*frame.Frame, error)
}

// RegionProcessor corrects a region before detection. Satisfied by *preprocess.Preprocessor.
type RegionProcessor interface {
	Process(r frame.Region) (*preprocess.Result, error)
}

// Detector finds objects in a region. Satisfied by *detect.Engine.
type Detector interface {
	Detect(r frame.Region, threshold float32, classes []int) ([]frame.Detection, error)
}

// Thresholds are the model confidence thresholds of each region
type Thresholds struct {
	Top    float32
	Bottom float32
}

func (t Thresholds) For(label frame.Label) float32 {
	if label == frame.Bottom {
		return t.Bottom
	}
	return t.Top
}

// RegionResult is what happened to one region of a sample
type RegionResult struct {
	Label         frame.Label
	Content       frame.ContentStats
	Correction    preprocess.Correction
	PreprocessErr error        // Preprocessing failed, and the raw region was used instead
	Processed     frame.Region // The region that was given to the detector
	Threshold     float32
	ModelCount    int // Detections returned by the model, before filtering
	Filter        postfilter.Stats
	DetectErr     error // Non-nil means "could not determine", as opposed to "nothing found"
	Detections    []frame.RemappedDetection
}

// SampleResult is the outcome of one acquisition and its pipeline run
type SampleResult struct {
	Index          int
	Time           time.Time
	Source         string       // Strategy that produced the frame
	Frame          *frame.Frame // Only retained for the best sample of a run
	AcquisitionErr error
	FrameErr       error
	Regions        []RegionResult
	Detections     []frame.RemappedDetection // Top region first, then bottom
	TotalCount     int
}

// Processed is true if the sample's frame reached the detector
func (s *SampleResult) Processed() bool {
	return s.AcquisitionErr == nil && s.FrameErr == nil
}

// Region returns the result of the region with the given label, or nil
func (s *SampleResult) Region(label frame.Label) *RegionResult {
	for i := range s.Regions {
		if s.Regions[i].Label == label {
			return &s.Regions[i]
		}
	}
	return nil
}

// DetectErr returns the detection failure of a region, if any
func (s *SampleResult) DetectErr(label frame.Label) error {
	if r := s.Region(label); r != nil {
		return r.DetectErr
	}
	return nil
}

// CountIn returns the number of detections kept in a region
func (s *SampleResult) CountIn(label frame.Label) int {
	return lo.CountBy(s.Detections, func(d frame.RemappedDetection) bool {
		return d.Region == label
	})
}

// Pipeline runs split, preprocess, detect, filter and remap on a frame
type Pipeline struct {
	log        logs.Log
	preprocess RegionProcessor // nil disables preprocessing
	detector   Detector
	filter     *postfilter.Filter
	classes    []int
	content    frame.ContentThresholds
}

func NewPipeline(log logs.Log, preprocess RegionProcessor, detector Detector, filter *postfilter.Filter, classes []int, content frame.ContentThresholds) *Pipeline {
	return &Pipeline{
		log:        log,
		preprocess: preprocess,
		detector:   detector,
		filter:     filter,
		classes:    classes,
		content:    content,
	}
}

// ProcessFrame runs the pipeline on f. The result is never nil. A frame that cannot
// be split is reported in FrameErr, with no regions.
func (p *Pipeline) ProcessFrame(f *frame.Frame, thresholds Thresholds) *SampleResult {
	res := &SampleResult{
		Time:       f.CapturedAt,
		Source:     f.Source,
		Frame:      f,
		Detections: []frame.RemappedDetection{},
	}
	top, bottom, err := frame.Split(f)
	if err != nil {
		res.FrameErr = err
		return res
	}
	for _, region := range []frame.Region{top, bottom} {
		rr := p.processRegion(region, thresholds.For(region.Label))
		res.Regions = append(res.Regions, rr)
		res.Detections = append(res.Detections, rr.Detections...)
	}
	res.TotalCount = len(res.Detections)
	return res
}

func (p *Pipeline) processRegion(region frame.Region, threshold float32) RegionResult {
	rr := RegionResult{
		Label:      region.Label,
		Content:    frame.AnalyzeContent(region, p.content),
		Correction: preprocess.NoCorrection(),
		Processed:  region,
		Threshold:  threshold,
		Detections: []frame.RemappedDetection{},
	}
	p.log.Debugf("%v region: mean %.1f, std %.1f, %v", region.Label, rr.Content.Mean, rr.Content.Std, rr.Content.Content)

	if p.preprocess != nil {
		corrected, err := p.preprocess.Process(region)
		if err != nil {
			p.log.Warnf("Preprocessing of %v region failed, using raw pixels: %v", region.Label, err)
			rr.PreprocessErr = err
		} else {
			rr.Processed = corrected.Region
			rr.Correction = corrected.Correction
		}
	}

	dets, err := p.detector.Detect(rr.Processed, threshold, p.classes)
	if err != nil {
		p.log.Warnf("%v", err)
		rr.DetectErr = err
		return rr
	}
	rr.ModelCount = len(dets)

	kept, stats := p.filter.Apply(dets)
	rr.Filter = stats
	// Remap against the original region. The processed copy has the same geometry.
	rr.Detections = frame.RemapAll(kept, region)
	return rr
}

package sampler

import (
	"context"
	"errors"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/detect"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/nn"
	"github.com/cyclopcam/splitcam/pkg/postfilter"
	"github.com/cyclopcam/splitcam/pkg/preprocess"
	"github.com/cyclopcam/splitcam/pkg/source"
	"github.com/stretchr/testify/require"
)

// Returns the next scripted frame or error on each call
type scriptedSource struct {
	steps []func() (*frame.Frame, error)
	calls int
}

func (s *scriptedSource) Acquire(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := s.steps[s.calls%len(s.steps)]
	s.calls++
	return step()
}

func grayFrame(w, h int) *frame.Frame {
	pixels := make([]byte, w*h*frame.NChan)
	for i := range pixels {
		pixels[i] = 100
	}
	f, _ := frame.NewFrame(w, h, pixels, clock.NewMock().Now())
	f.Source = source.StrategyDirect
	return f
}

func ok() (*frame.Frame, error) {
	return grayFrame(640, 480), nil
}

func failed() (*frame.Frame, error) {
	return nil, &source.AcquisitionFailure{Reasons: []source.StrategyFailure{
		{Strategy: source.StrategyDirect, Err: source.ErrReadTimeout},
		{Strategy: source.StrategySnapshot, Err: source.ErrNoSnapshots},
	}}
}

type regionCounts struct {
	top    int
	bottom int
	topErr error
}

// Each processed sample pops one entry, and returns that many well-formed, non-overlapping people per region
type countingDetector struct {
	script     []regionCounts
	samples    int
	thresholds []float32
}

func (c *countingDetector) Detect(r frame.Region, threshold float32, classes []int) ([]frame.Detection, error) {
	c.thresholds = append(c.thresholds, threshold)
	counts := c.script[min(c.samples, len(c.script)-1)]
	n := counts.top
	if r.Label == frame.Bottom {
		n = counts.bottom
		c.samples++
	} else if counts.topErr != nil {
		return nil, &detect.DetectionFailure{Region: r.Label, Err: counts.topErr}
	}
	dets := []frame.Detection{}
	for i := 0; i < n; i++ {
		x := int32(10 + i*100)
		dets = append(dets, frame.Detection{
			ObjectDetection: nn.ObjectDetection{Class: nn.COCOPerson, Confidence: 0.8, Box: nn.RectFromCorners(x, 20, x+50, 120)},
			Region:          r.Label,
		})
	}
	return dets, nil
}

func newPipeline(t *testing.T, det Detector, pre RegionProcessor) *Pipeline {
	c := config.Default()
	filter := postfilter.NewFilter(postfilter.NewParams(&c.Filter))
	return NewPipeline(logs.NewTestingLog(t), pre, det, filter, []int{nn.COCOPerson}, frame.DefaultContentThresholds())
}

func TestBestOfRun(t *testing.T) {
	// 5 attempts, 3 acquisition failures, and counts of 1 and 3 for the others
	src := &scriptedSource{steps: []func() (*frame.Frame, error){failed, ok, failed, ok, failed}}
	det := &countingDetector{script: []regionCounts{{top: 1}, {top: 1, bottom: 2}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{Top: 0.4, Bottom: 0.3}, 0)

	report, err := agg.Run(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 5, report.Attempts)
	require.Equal(t, 3, report.AcquisitionFailures)
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 3, report.Best.TotalCount())
	require.Equal(t, 3, report.Best.Sample.Index)
	require.Equal(t, 1, report.Best.Sample.CountIn(frame.Top))
	require.Equal(t, 2, report.Best.Sample.CountIn(frame.Bottom))
	require.NotNil(t, report.Best.Sample.Frame)
	require.Nil(t, report.Samples[1].Frame)
	require.Equal(t, []float32{0.4, 0.3, 0.4, 0.3}, det.thresholds)
	require.EqualValues(t, 2, report.AcquireTime.Samples)
	require.EqualValues(t, 2, report.ProcessTime.Samples)

	var failure *source.AcquisitionFailure
	require.ErrorAs(t, report.Samples[0].AcquisitionErr, &failure)
	require.Contains(t, report.FailureSummary(), "snapshot")
}

func TestBottomDetectionsAreRemapped(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	det := &countingDetector{script: []regionCounts{{top: 1, bottom: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{Top: 0.4, Bottom: 0.4}, 0)

	report, err := agg.Run(context.Background(), 1)
	require.NoError(t, err)
	dets := report.Best.Sample.Detections
	require.Len(t, dets, 2)
	require.Equal(t, frame.Top, dets[0].Region)
	require.Equal(t, int32(20), dets[0].Box.Y)
	require.Equal(t, frame.Bottom, dets[1].Region)
	require.Equal(t, int32(20+240), dets[1].Box.Y)
	require.Equal(t, int32(120+240), dets[1].Box.Y2())
	require.Equal(t, dets[1].LocalBox.X, dets[1].Box.X)
}

func TestTieKeepsFirst(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	det := &countingDetector{script: []regionCounts{{top: 2}, {bottom: 2}, {top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 2, report.Best.TotalCount())
	require.Equal(t, 0, report.Best.Sample.Index)
}

func TestNothingFoundLeavesBestEmpty(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	det := &countingDetector{script: []regionCounts{{}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, report.Processed)
	require.True(t, report.Best.Empty())
	require.Equal(t, 0, report.Best.TotalCount())
	require.Contains(t, report.String(), "best 0 detections")
	for _, s := range report.Samples {
		require.Nil(t, s.Frame)
	}
}

func TestExhaustion(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){failed}}
	det := &countingDetector{script: []regionCounts{{top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 4)
	require.ErrorIs(t, err, ErrExhausted)
	require.True(t, report.Best.Empty())
	require.Equal(t, 4, report.AcquisitionFailures)
	require.Equal(t, 0, det.samples)
}

func TestDegenerateFrameIsDiscarded(t *testing.T) {
	thin := func() (*frame.Frame, error) {
		return grayFrame(640, 1), nil
	}
	src := &scriptedSource{steps: []func() (*frame.Frame, error){thin, ok}}
	det := &countingDetector{script: []regionCounts{{top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, report.DegenerateFrames)
	require.ErrorIs(t, report.Samples[0].FrameErr, frame.ErrDegenerateFrame)
	require.Equal(t, 1, report.Best.Sample.Index)
}

func TestDegenerateFramesAreNotExhaustion(t *testing.T) {
	thin := func() (*frame.Frame, error) {
		return grayFrame(640, 1), nil
	}
	src := &scriptedSource{steps: []func() (*frame.Frame, error){thin, failed}}
	det := &countingDetector{script: []regionCounts{{top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 2, report.DegenerateFrames)
	require.Equal(t, 2, report.AcquisitionFailures)
	require.Equal(t, 0, report.Processed)
	require.True(t, report.Best.Empty())
	require.Equal(t, 0, det.samples)
}

func TestDetectionFailureCountsAsEmpty(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	modelErr := errors.New("onnxruntime: invalid input")
	det := &countingDetector{script: []regionCounts{{top: 5, bottom: 1, topErr: modelErr}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	report, err := agg.Run(context.Background(), 1)
	require.NoError(t, err)
	s := report.Best.Sample
	require.Equal(t, 1, s.TotalCount)
	require.ErrorIs(t, s.DetectErr(frame.Top), modelErr)
	require.NoError(t, s.DetectErr(frame.Bottom))
	require.Equal(t, 1, report.DetectionFailures)
}

func TestCancelledRun(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	det := &countingDetector{script: []regionCounts{{top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := agg.Run(ctx, 3)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, report.Attempts)
	require.Equal(t, 0, src.calls)
}

type recordingSink struct {
	indices []int
}

func (r *recordingSink) RecordSample(s *SampleResult) error {
	r.indices = append(r.indices, s.Index)
	return nil
}

func TestSinksSeeEverySample(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok, failed}}
	det := &countingDetector{script: []regionCounts{{top: 1}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)
	sink := &recordingSink{}
	agg.AddSink(sink)

	_, err := agg.Run(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, sink.indices)
}

// Marks every pixel it touches, so we can see that the detector received the processed region
type markingProcessor struct {
	calls int
}

func (m *markingProcessor) Process(r frame.Region) (*preprocess.Result, error) {
	m.calls++
	pixels := make([]byte, len(r.Pixels()))
	for i := range pixels {
		pixels[i] = 7
	}
	out, err := r.WithPixels(pixels)
	if err != nil {
		return nil, err
	}
	return &preprocess.Result{Region: out, Correction: preprocess.Correction{Exposure: preprocess.ExposureBright, Gain: 0.7, Offset: -30}}, nil
}

type pixelCheckingDetector struct {
	seen []byte
}

func (p *pixelCheckingDetector) Detect(r frame.Region, threshold float32, classes []int) ([]frame.Detection, error) {
	p.seen = append(p.seen, r.Pixels()[0])
	return []frame.Detection{}, nil
}

func TestPreprocessingToggle(t *testing.T) {
	f := grayFrame(64, 32)

	det := &pixelCheckingDetector{}
	pre := &markingProcessor{}
	res := newPipeline(t, det, pre).ProcessFrame(f, Thresholds{})
	require.Equal(t, 2, pre.calls)
	require.Equal(t, []byte{7, 7}, det.seen)
	require.Equal(t, preprocess.ExposureBright, res.Region(frame.Top).Correction.Exposure)
	// The frame itself is untouched
	require.Equal(t, byte(100), f.Pixels[0])

	det = &pixelCheckingDetector{}
	res = newPipeline(t, det, nil).ProcessFrame(f, Thresholds{})
	require.Equal(t, []byte{100, 100}, det.seen)
	require.True(t, res.Region(frame.Bottom).Correction.IsIdentity())
	require.Equal(t, frame.ContentEmpty, res.Region(frame.Bottom).Content.Content)
}

func TestSweep(t *testing.T) {
	src := &scriptedSource{steps: []func() (*frame.Frame, error){ok}}
	det := &countingDetector{script: []regionCounts{{top: 1}, {top: 2, bottom: 1}, {top: 3, bottom: 3}}}
	agg := NewAggregator(logs.NewTestingLog(t), clock.NewMock(), src, newPipeline(t, det, nil), Thresholds{}, 0)

	pairs := ThresholdsFromPairs(config.Default().Sweep.Pairs)
	entries, err := agg.Sweep(context.Background(), pairs)
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)
	require.Len(t, entries, 3)
	require.Equal(t, []int{1, 3, 6}, []int{entries[0].Result.TotalCount, entries[1].Result.TotalCount, entries[2].Result.TotalCount})
	require.Equal(t, []float32{0.25, 0.15, 0.15, 0.10, 0.10, 0.05}, det.thresholds)

	_, err = NewAggregator(logs.NewTestingLog(t), clock.NewMock(), &scriptedSource{steps: []func() (*frame.Frame, error){failed}}, newPipeline(t, det, nil), Thresholds{}, 0).Sweep(context.Background(), pairs)
	var failure *source.AcquisitionFailure
	require.ErrorAs(t, err, &failure)
}

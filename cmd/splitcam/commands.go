package main

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/artifacts"
	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/detect"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/nn"
	"github.com/cyclopcam/splitcam/pkg/nnload"
	"github.com/cyclopcam/splitcam/pkg/postfilter"
	"github.com/cyclopcam/splitcam/pkg/preprocess"
	"github.com/cyclopcam/splitcam/pkg/rundb"
	"github.com/cyclopcam/splitcam/pkg/sampler"
	"github.com/cyclopcam/splitcam/pkg/source"
)

// Everything needed to process frames. Created once per invocation.
type detectionStack struct {
	model    nn.ObjectDetector
	pipeline *sampler.Pipeline
	classes  []string // Model class names
}

func (d *detectionStack) Close() {
	d.model.Close()
}

func newDetectionStack(logger logs.Log, cfg *config.Config) (*detectionStack, error) {
	model, err := nnload.LoadModel(logger, cfg.Detect.Model, cfg.Detect.Runtime)
	if err != nil {
		return nil, err
	}
	classes, err := nnload.ResolveClasses(model.Config(), cfg.Detect.Classes)
	if err != nil {
		model.Close()
		return nil, err
	}
	engine := detect.NewEngine(logger, model, detect.Options{
		Tiled:       cfg.Detect.Tiled,
		ModelNmsIoU: cfg.Detect.ModelNmsIoU,
	})
	var pre sampler.RegionProcessor
	if cfg.Preprocess.Enabled {
		pre = preprocess.NewPreprocessor(logger, preprocess.NewPolicy(&cfg.Preprocess))
	}
	filter := postfilter.NewFilter(postfilter.NewParams(&cfg.Filter))
	content := frame.ContentThresholds{
		EmptyBelow:    cfg.Content.EmptyBelow,
		TexturedAbove: cfg.Content.TexturedAbove,
	}
	return &detectionStack{
		model:    model,
		pipeline: sampler.NewPipeline(logger, pre, engine, filter, classes, content),
		classes:  model.Config().Classes,
	}, nil
}

func runSettings(cfg *config.Config) rundb.RunSettings {
	return rundb.RunSettings{
		Model:            cfg.Detect.Model,
		TopConfidence:    cfg.Detect.TopConfidence,
		BottomConfidence: cfg.Detect.BottomConfidence,
		Preprocess:       cfg.Preprocess.Enabled,
		MinArea:          cfg.Filter.MinArea,
		MaxArea:          cfg.Filter.MaxArea,
		MinRatio:         cfg.Filter.MinRatio,
		MaxRatio:         cfg.Filter.MaxRatio,
		MinScore:         cfg.Filter.MinScore,
		NmsIoU:           cfg.Filter.NmsIoU,
		Width:            cfg.Source.Width,
		Height:           cfg.Source.Height,
	}
}

// Wires up the optional sinks. The returned recorder is nil if there is no run DB.
func addSinks(logger logs.Log, clk clock.Clock, cfg *config.Config, agg *sampler.Aggregator, stack *detectionStack, command string) (*rundb.RunDB, *rundb.Recorder, error) {
	if cfg.Run.SaveArtifacts {
		w, err := artifacts.NewWriter(logger, clk, cfg.Run.OutputDir, stack.classes)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Saving artifacts to %v with prefix %v", cfg.Run.OutputDir, w.Prefix())
		agg.AddSink(w)
	}
	if cfg.Run.DB == "" {
		return nil, nil, nil
	}
	db, err := rundb.Open(logger, cfg.Run.DB)
	if err != nil {
		return nil, nil, err
	}
	rec, err := db.StartRun(command, cfg.Source.URL, cfg.Run.Samples, runSettings(cfg), stack.classes, clk.Now())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	agg.AddSink(rec)
	return db, rec, nil
}

func printDetections(s *sampler.SampleResult, classes []string) {
	for _, d := range s.Detections {
		name := fmt.Sprintf("class%v", d.Class)
		if d.Class < len(classes) {
			name = classes[d.Class]
		}
		fmt.Printf("  %-6v %-8v %.2f  (%v,%v)-(%v,%v)\n", d.Region, name, d.Confidence, d.Box.X, d.Box.Y, d.Box.X2(), d.Box.Y2())
	}
}

func printRegions(s *sampler.SampleResult) {
	for _, r := range s.Regions {
		status := fmt.Sprintf("%v kept of %v", len(r.Detections), r.ModelCount)
		if r.DetectErr != nil {
			status = "could not determine: " + r.DetectErr.Error()
		}
		fmt.Printf("  %-6v mean %6.1f  std %5.1f  %-8v exposure %-6v threshold %.2f  %v\n",
			r.Label, r.Content.Mean, r.Content.Std, r.Content.Content, r.Correction.Exposure, r.Threshold, status)
	}
}

func runSamples(ctx context.Context, logger logs.Log, cfg *config.Config) error {
	if err := cfg.Prepare(); err != nil {
		return err
	}
	clk := clock.New()
	stack, err := newDetectionStack(logger, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	src := source.FromConfig(logger, clk, &cfg.Source)
	defer src.Close()

	thresholds := sampler.Thresholds{Top: cfg.Detect.TopConfidence, Bottom: cfg.Detect.BottomConfidence}
	agg := sampler.NewAggregator(logger, clk, src, stack.pipeline, thresholds, cfg.Run.RetryDelay)
	db, rec, err := addSinks(logger, clk, cfg, agg, stack, "run")
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	report, err := agg.Run(ctx, cfg.Run.Samples)
	if rec != nil {
		if ferr := rec.Finish(report, clk.Now()); ferr != nil {
			logger.Warnf("Failed to finish run record: %v", ferr)
		}
	}

	fmt.Printf("%v\n", report)
	logger.Infof("Timing: %v", report.TimingSummary())
	if err != nil {
		if summary := report.FailureSummary(); summary != "" {
			fmt.Printf("Acquisition failures:\n%v\n", summary)
		}
		return err
	}
	if report.Best.Empty() {
		fmt.Printf("No detections in %v processed samples\n", report.Processed)
		return nil
	}
	best := report.Best.Sample
	fmt.Printf("Best sample %v (%v, via %v): %v detections\n", best.Index, best.Time.Format(time.RFC3339), best.Source, best.TotalCount)
	printRegions(best)
	printDetections(best, stack.classes)
	return nil
}

func sweep(ctx context.Context, logger logs.Log, cfg *config.Config) error {
	if err := cfg.Prepare(); err != nil {
		return err
	}
	clk := clock.New()
	stack, err := newDetectionStack(logger, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	src := source.FromConfig(logger, clk, &cfg.Source)
	defer src.Close()

	agg := sampler.NewAggregator(logger, clk, src, stack.pipeline, sampler.Thresholds{}, 0)
	db, _, err := addSinks(logger, clk, cfg, agg, stack, "sweep")
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	entries, err := agg.Sweep(ctx, sampler.ThresholdsFromPairs(cfg.Sweep.Pairs))
	for _, e := range entries {
		fmt.Printf("%v\n", e)
		printRegions(e.Result)
	}
	return err
}

// A frame that is always available, for running the pipeline on an image file
type fileSource struct {
	f *frame.Frame
}

func (s *fileSource) Acquire(ctx context.Context) (*frame.Frame, error) {
	return s.f, nil
}

func analyze(ctx context.Context, logger logs.Log, cfg *config.Config, imageFile string) error {
	// Live sources are irrelevant here, so only the detection settings need to be valid
	cfg.Source.Direct.Enabled = false
	cfg.Source.Demux.Enabled = false
	cfg.Source.Snapshot.Enabled = true
	if err := cfg.Prepare(); err != nil {
		return err
	}
	f, err := source.OpenImageFile(imageFile)
	if err != nil {
		return err
	}
	f.Source = imageFile
	clk := clock.New()
	f.CapturedAt = clk.Now()

	stack, err := newDetectionStack(logger, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	thresholds := sampler.Thresholds{Top: cfg.Detect.TopConfidence, Bottom: cfg.Detect.BottomConfidence}
	agg := sampler.NewAggregator(logger, clk, &fileSource{f: f}, stack.pipeline, thresholds, 0)
	db, rec, err := addSinks(logger, clk, cfg, agg, stack, "analyze")
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	report, err := agg.Run(ctx, 1)
	if rec != nil {
		if ferr := rec.Finish(report, clk.Now()); ferr != nil {
			logger.Warnf("Failed to finish run record: %v", ferr)
		}
	}
	if len(report.Samples) == 0 {
		return err
	}
	s := report.Samples[0]
	if s.FrameErr != nil {
		return s.FrameErr
	}
	fmt.Printf("%v: %vx%v, split at row %v\n", imageFile, f.Width, f.Height, f.Height/2)
	printRegions(s)
	printDetections(s, stack.classes)
	return err
}

func probe(ctx context.Context, logger logs.Log, cfg *config.Config, timeout time.Duration) error {
	if cfg.Source.URL == "" {
		return fmt.Errorf("No URL given. Use --url or source.url")
	}
	logger.Infof("Probing %v", cfg.Source.URL)
	res, err := source.Probe(ctx, cfg.Source.URL, timeout)
	if err != nil {
		return err
	}
	fmt.Printf("Title: %v\n", res.Title)
	for _, m := range res.Medias {
		fmt.Printf("  %v\n", m)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/sampler"
)

// Exit codes
const (
	exitOK        = 0
	exitError     = 1
	exitExhausted = 2
)

// Flags shared by every command
type commonFlags struct {
	config  *string
	url     *string
	model   *string
	samples *int
	output  *string
	db      *string
}

func addCommonFlags(cmd *argparse.Command) *commonFlags {
	return &commonFlags{
		config:  cmd.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""}),
		url:     cmd.String("u", "url", &argparse.Options{Help: "Camera stream URL (overrides source.url)", Default: ""}),
		model:   cmd.String("m", "model", &argparse.Options{Help: "Path to ONNX detection model (overrides detect.model)", Default: ""}),
		samples: cmd.Int("n", "samples", &argparse.Options{Help: "Number of frames to sample (overrides run.samples)", Default: 0}),
		output:  cmd.String("o", "output", &argparse.Options{Help: "Directory for diagnostic images. Setting this enables artifacts.", Default: ""}),
		db:      cmd.String("", "db", &argparse.Options{Help: "SQLite file for run history (overrides run.db)", Default: ""}),
	}
}

// Load the config file, and apply command line overrides
func (f *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*f.config)
	if err != nil {
		return nil, err
	}
	if *f.url != "" {
		cfg.Source.URL = *f.url
	}
	if *f.model != "" {
		cfg.Detect.Model = *f.model
	}
	if *f.samples != 0 {
		cfg.Run.Samples = *f.samples
	}
	if *f.output != "" {
		cfg.Run.OutputDir = *f.output
		cfg.Run.SaveArtifacts = true
	}
	if *f.db != "" {
		cfg.Run.DB = *f.db
	}
	return cfg, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := argparse.NewParser("splitcam", "Person detection diagnostics for dual-lens cameras that stack two views in one frame")

	runCmd := parser.NewCommand("run", "Sample frames from the camera, and report the best detection count")
	runFlags := addCommonFlags(runCmd)
	noPreprocess := runCmd.Flag("", "no-preprocess", &argparse.Options{Help: "Disable exposure correction and CLAHE", Default: false})

	sweepCmd := parser.NewCommand("sweep", "Run one frame through each of the configured confidence pairs")
	sweepFlags := addCommonFlags(sweepCmd)

	analyzeCmd := parser.NewCommand("analyze", "Run the pipeline on an image file")
	analyzeFlags := addCommonFlags(analyzeCmd)
	imageFile := analyzeCmd.String("i", "image", &argparse.Options{Help: "Image file of a stacked frame", Required: true})

	probeCmd := parser.NewCommand("probe", "Ask an RTSP server which media it publishes")
	probeFlags := addCommonFlags(probeCmd)
	probeTimeout := probeCmd.Int("t", "timeout", &argparse.Options{Help: "Timeout in seconds", Default: 5})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		return exitError
	}

	var flags *commonFlags
	switch {
	case runCmd.Happened():
		flags = runFlags
	case sweepCmd.Happened():
		flags = sweepFlags
	case analyzeCmd.Happened():
		flags = analyzeFlags
	case probeCmd.Happened():
		flags = probeFlags
	}
	if flags == nil {
		fmt.Print(parser.Usage("A command is required"))
		return exitError
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		return exitError
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		logger.Errorf("%v", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case probeCmd.Happened():
		err = probe(ctx, logger, cfg, time.Duration(*probeTimeout)*time.Second)
	case analyzeCmd.Happened():
		err = analyze(ctx, logger, cfg, *imageFile)
	case sweepCmd.Happened():
		err = sweep(ctx, logger, cfg)
	case runCmd.Happened():
		if *noPreprocess {
			cfg.Preprocess.Enabled = false
		}
		err = runSamples(ctx, logger, cfg)
	}

	if err == nil {
		return exitOK
	}
	if errors.Is(err, sampler.ErrExhausted) {
		logger.Errorf("%v", err)
		return exitExhausted
	}
	if errors.Is(err, context.Canceled) {
		logger.Warnf("Interrupted")
		return exitError
	}
	logger.Errorf("%v", err)
	return exitError
}

package preprocess

import (
	"fmt"
	"image"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/stats"
	"gocv.io/x/gocv"
)

// Result describes what Process did to a region
type Result struct {
	Region     frame.Region // The corrected region, with its own pixel buffer
	Mean       float64      // Mean luminance before correction
	Correction Correction
}

// Preprocessor applies exposure correction and CLAHE to regions.
// It never writes into the parent frame.
type Preprocessor struct {
	log    logs.Log
	policy Policy
}

func NewPreprocessor(log logs.Log, policy Policy) *Preprocessor {
	return &Preprocessor{
		log:    log,
		policy: policy,
	}
}

func (p *Preprocessor) Policy() Policy {
	return p.policy
}

// Process returns a corrected copy of the region, with the same dimensions
func (p *Preprocessor) Process(r frame.Region) (*Result, error) {
	pixels := r.Pixels()
	mean := stats.Mean(pixels)
	corr := p.policy.Decide(mean)

	src, err := gocv.NewMatFromBytes(r.Height, r.Width, gocv.MatTypeCV8UC3, pixels)
	if err != nil {
		return nil, fmt.Errorf("Failed to wrap %v region: %w", r.Label, err)
	}
	defer src.Close()

	exposed := gocv.NewMat()
	defer exposed.Close()
	if corr.IsIdentity() {
		src.CopyTo(&exposed)
	} else {
		gocv.ConvertScaleAbs(src, &exposed, corr.Gain, corr.Offset)
	}

	out := gocv.NewMat()
	defer out.Close()
	if err := p.equalize(exposed, &out); err != nil {
		return nil, err
	}

	corrected, err := r.WithPixels(out.ToBytes())
	if err != nil {
		return nil, err
	}
	p.log.Debugf("Preprocessed %v region: mean %.1f, exposure %v", r.Label, mean, corr.Exposure)
	return &Result{
		Region:     corrected,
		Mean:       mean,
		Correction: corr,
	}, nil
}

// Run CLAHE on the L channel of Lab, leaving chroma alone
func (p *Preprocessor) equalize(rgb gocv.Mat, dst *gocv.Mat) error {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(rgb, &lab, gocv.ColorRGBToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	if len(channels) != 3 {
		return fmt.Errorf("Expected 3 Lab channels, but got %v", len(channels))
	}

	clahe := gocv.NewCLAHEWithParams(p.policy.ClipLimit, image.Pt(p.policy.TileGrid, p.policy.TileGrid))
	defer clahe.Close()
	lightness := gocv.NewMat()
	clahe.Apply(channels[0], &lightness)
	channels[0].Close()
	channels[0] = lightness

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)
	gocv.CvtColor(merged, dst, gocv.ColorLabToRGB)
	return nil
}

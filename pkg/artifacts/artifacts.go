// Package artifacts writes diagnostic JPEG images of each stage of the pipeline.
package artifacts

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/iox"
	"github.com/cyclopcam/splitcam/pkg/sampler"
	"github.com/cyclopcam/splitcam/pkg/source"
)

// Stage names used in artifact filenames
const (
	StageRaw       = "raw"
	StageAnnotated = "annotated"
)

const PrefixTimeFormat = "20060102_150405"

// Writer saves images named <prefix>_<stage>_<suffix>.jpg, where prefix is the start time of the run
type Writer struct {
	log     logs.Log
	dir     string
	prefix  string
	quality int
	classes []string
}

func NewWriter(log logs.Log, clock clock.Clock, dir string, classes []string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create artifact directory '%v': %w", dir, err)
	}
	return &Writer{
		log:     log,
		dir:     dir,
		prefix:  clock.Now().Format(PrefixTimeFormat),
		quality: 90,
		classes: classes,
	}, nil
}

func (w *Writer) Prefix() string {
	return w.prefix
}

func (w *Writer) Filename(stage, suffix string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%v_%v_%v.jpg", w.prefix, stage, suffix))
}

// SaveRGB writes packed RGB pixels as a JPEG, and returns the filename
func (w *Writer) SaveRGB(stage, suffix string, width, height int, pixels []byte) (string, error) {
	img := cimg.WrapImage(width, height, cimg.PixelFormatRGB, pixels)
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, w.quality, 0))
	if err != nil {
		return "", err
	}
	filename := w.Filename(stage, suffix)
	if err := iox.WriteFileAtomic(filename, bytes.NewReader(jpg)); err != nil {
		return "", err
	}
	return filename, nil
}

func (w *Writer) SaveFrame(stage, suffix string, f *frame.Frame) (string, error) {
	return w.SaveRGB(stage, suffix, f.Width, f.Height, f.Pixels)
}

// SaveRegion writes a region, using its label as the stage
func (w *Writer) SaveRegion(suffix string, r frame.Region) (string, error) {
	return w.SaveRGB(string(r.Label), suffix, r.Width, r.Height, r.Pixels())
}

func (w *Writer) SaveImage(stage, suffix string, img image.Image) (string, error) {
	f, err := source.FrameFromImage(img)
	if err != nil {
		return "", err
	}
	return w.SaveFrame(stage, suffix, f)
}

// SampleSuffix is the filename suffix of a sample's artifacts
func SampleSuffix(index int) string {
	return fmt.Sprintf("s%03d", index)
}

// RecordSample writes the raw frame, both processed regions, and the annotated frame.
// Samples that never reached the detector are skipped.
func (w *Writer) RecordSample(s *sampler.SampleResult) error {
	if !s.Processed() || s.Frame == nil {
		return nil
	}
	suffix := SampleSuffix(s.Index)
	if _, err := w.SaveFrame(StageRaw, suffix, s.Frame); err != nil {
		return err
	}
	splitY := 0
	for _, r := range s.Regions {
		if _, err := w.SaveRegion(suffix, r.Processed); err != nil {
			return err
		}
		if r.Label == frame.Bottom {
			splitY = r.Processed.YOffset
		}
	}
	filename, err := w.SaveImage(StageAnnotated, suffix, Annotate(s.Frame, splitY, s.Detections, w.classes))
	if err != nil {
		return err
	}
	w.log.Debugf("Saved artifacts of sample %v, ending with %v", s.Index, filename)
	return nil
}

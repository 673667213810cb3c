// Package detect runs an object detector over the regions of a split frame.
package detect

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/nn"
)

// DetectionFailure is returned when the model itself fails on a region.
// This means "could not determine", which is different from an empty result.
type DetectionFailure struct {
	Region frame.Label
	Err    error
}

func (e *DetectionFailure) Error() string {
	return fmt.Sprintf("Detection failed on %v region: %v", e.Region, e.Err)
}

func (e *DetectionFailure) Unwrap() error {
	return e.Err
}

// Engine wraps a detection model, which is loaded once and reused for every region
type Engine struct {
	log         logs.Log
	model       nn.ObjectDetector
	tiled       bool
	modelNmsIoU float32
}

type Options struct {
	Tiled       bool    // Use tiled inference when the region is larger than the model input
	ModelNmsIoU float32 // IoU used inside the model's own output decoding. Zero uses the default.
}

func NewEngine(log logs.Log, model nn.ObjectDetector, options Options) *Engine {
	return &Engine{
		log:         log,
		model:       model,
		tiled:       options.Tiled,
		modelNmsIoU: options.ModelNmsIoU,
	}
}

// Model returns the underlying detector
func (e *Engine) Model() nn.ObjectDetector {
	return e.model
}

// Detect runs the model on a region. Only detections with confidence >= threshold, and a class inside
// 'classes', are returned. The model enforces both. An empty list is a legitimate result.
// Boxes are region-local and clipped to the region.
func (e *Engine) Detect(r frame.Region, threshold float32, classes []int) ([]frame.Detection, error) {
	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = threshold
	params.Classes = classes
	if e.modelNmsIoU != 0 {
		params.NmsIouThreshold = e.modelNmsIoU
	}

	var objects []nn.ObjectDetection
	var err error
	if e.tiled {
		objects, err = nn.TiledInference(e.model, r.Image, params)
	} else {
		objects, err = e.model.DetectObjects(r.Image, params)
	}
	if err != nil {
		return nil, &DetectionFailure{Region: r.Label, Err: err}
	}

	bounds := r.Bounds()
	dets := make([]frame.Detection, 0, len(objects))
	for _, obj := range objects {
		obj.Box = obj.Box.Intersection(bounds)
		if !obj.Box.IsValid() {
			continue
		}
		dets = append(dets, frame.Detection{
			ObjectDetection: obj,
			Region:          r.Label,
		})
	}
	e.log.Debugf("Model found %v objects in %v region at threshold %.2f", len(dets), r.Label, threshold)
	return dets, nil
}

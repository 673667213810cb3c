// Package yolo runs YOLOv8-style ONNX detection models through onnxruntime.
package yolo

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/splitcam/pkg/nn"
	ort "github.com/yalue/onnxruntime_go"
)

var initOnce sync.Once
var initErr error

// Initialize the onnxruntime environment. libraryPath may be empty to use the default shared library.
func initRuntime(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			initErr = ort.InitializeEnvironment()
		}
	})
	return initErr
}

// Detector is an nn.ObjectDetector backed by an onnxruntime session.
// A Detector is not safe for concurrent use, because it reuses its tensors between calls.
type Detector struct {
	config  nn.ModelConfig
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewDetector loads an ONNX model. The model must have an input named "images" of shape
// [1, 3, config.Height, config.Width] and an output named "output0".
func NewDetector(config *nn.ModelConfig, modelFile, libraryPath string) (*Detector, error) {
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("Failed to initialize onnxruntime: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("Invalid model input size %vx%v", config.Width, config.Height)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelFile, []string{"images"}, []string{"output0"}, options)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model '%v': %w", modelFile, err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(config.Height), int64(config.Width)))
	if err != nil {
		session.Destroy()
		return nil, err
	}
	numFeatures := int64(4 + len(config.Classes))
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, numFeatures, int64(NumAnchors(config.Width, config.Height))))
	if err != nil {
		input.Destroy()
		session.Destroy()
		return nil, err
	}

	return &Detector{
		config:  *config,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

func (d *Detector) Close() {
	d.input.Destroy()
	d.output.Destroy()
	d.session.Destroy()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if img.NChan != 3 {
		return nil, fmt.Errorf("Expected 3 channel image, but got %v", img.NChan)
	}
	if img.CropWidth <= 0 || img.CropHeight <= 0 {
		return []nn.ObjectDetection{}, nil
	}
	xform := Letterbox(img, d.config.Width, d.config.Height, d.input.GetData())
	if err := d.session.Run([]ort.Value{d.input}, []ort.Value{d.output}); err != nil {
		return nil, fmt.Errorf("Inference failed: %w", err)
	}
	return Decode(d.output.GetData(), d.output.GetShape(), xform, img.CropWidth, img.CropHeight, params)
}

package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementation (onnxruntime), so that you can just call one function to
// load a model, and not need to know about the implementation details.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/nn"
	"github.com/cyclopcam/splitcam/pkg/yolo"
)

// DefaultModelConfig describes a stock YOLOv8 export trained on COCO
func DefaultModelConfig() *nn.ModelConfig {
	return &nn.ModelConfig{
		Architecture: "yolov8",
		Width:        640,
		Height:       640,
		Classes:      nn.COCOClasses,
	}
}

// Returns the model config that sits next to modelFile (eg yolov8n.json for yolov8n.onnx),
// or DefaultModelConfig() if there is none.
func ModelConfigFor(logs logs.Log, modelFile string) (*nn.ModelConfig, error) {
	configFile := strings.TrimSuffix(modelFile, filepath.Ext(modelFile)) + ".json"
	config, err := nn.LoadModelConfig(configFile)
	if errors.Is(err, os.ErrNotExist) {
		logs.Infof("No model config at %v, assuming COCO YOLOv8 at 640x640", configFile)
		return DefaultModelConfig(), nil
	} else if err != nil {
		return nil, fmt.Errorf("Failed to read model config %v: %w", configFile, err)
	}
	return config, nil
}

// LoadModel loads a neural network from disk.
// libraryPath is the onnxruntime shared library, and may be empty to use the system default.
func LoadModel(logs logs.Log, modelFile, libraryPath string) (nn.ObjectDetector, error) {
	if _, err := os.Stat(modelFile); err != nil {
		return nil, fmt.Errorf("Model file %v: %w", modelFile, err)
	}
	config, err := ModelConfigFor(logs, modelFile)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(modelFile)) {
	case ".onnx":
		logs.Infof("Loading %v model %v (%vx%v, %v classes)", config.Architecture, modelFile, config.Width, config.Height, len(config.Classes))
		return yolo.NewDetector(config, modelFile, libraryPath)
	default:
		return nil, fmt.Errorf("Unrecognized NN model type %v", modelFile)
	}
}

// ResolveClasses turns class names into model class indices
func ResolveClasses(config *nn.ModelConfig, names []string) ([]int, error) {
	ids := []int{}
	for _, name := range names {
		idx := nn.ClassIndex(config.Classes, strings.TrimSpace(name))
		if idx < 0 {
			return nil, fmt.Errorf("Model does not know the class '%v'", name)
		}
		ids = append(ids, idx)
	}
	return ids, nil
}

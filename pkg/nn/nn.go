package nn

import (
	"encoding/json"
	"os"
	"slices"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
	Classes              []int   // If not empty, only these classes are returned
	Unclipped            bool    // If true, don't clip boxes to the neural network boundaries
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
		Unclipped:            false,
	}
}

// Returns the threshold to use, substituting the default for zero
func (p *DetectionParams) Threshold() float32 {
	if p.ProbabilityThreshold == 0 {
		return DefaultProbabilityThreshold
	}
	return p.ProbabilityThreshold
}

// Returns the NMS IoU to use, substituting the default for zero
func (p *DetectionParams) NmsIou() float32 {
	if p.NmsIouThreshold == 0 {
		return DefaultNmsIouThreshold
	}
	return p.NmsIouThreshold
}

// Returns true if the class filter allows 'class'
func (p *DetectionParams) AllowsClass(class int) bool {
	return len(p.Classes) == 0 || slices.Contains(p.Classes, class)
}

// ImageCrop is a crop of an image.
// The crop does not own Pixels, and nothing that receives an ImageCrop may write into it.
// To create an ImageCrop, start with WholeImage(), and then use Crop() to get a sub-crop.
type ImageCrop struct {
	NChan       int    // Number of channels (eg 3 for RGB)
	Pixels      []byte // The whole image
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

func (c ImageCrop) Stride() int {
	return c.ImageWidth * c.NChan
}

// Return a crop of the crop (new crop is relative to existing).
// If any parameter is out of bounds, we panic
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	nc := ImageCrop{
		NChan:       c.NChan,
		Pixels:      c.Pixels,
		ImageWidth:  c.ImageWidth,
		ImageHeight: c.ImageHeight,
		CropX:       c.CropX + x1,
		CropY:       c.CropY + y1,
		CropWidth:   x2 - x1,
		CropHeight:  y2 - y1,
	}
	if nc.CropX < 0 || nc.CropY < 0 || nc.CropWidth < 0 || nc.CropHeight < 0 || nc.CropX+nc.CropWidth > c.ImageWidth || nc.CropY+nc.CropHeight > c.ImageHeight {
		panic("Crop out of bounds")
	}
	return nc
}

// IsFullWidth is true when the crop spans entire rows, so its pixels are contiguous in memory
func (c ImageCrop) IsFullWidth() bool {
	return c.CropX == 0 && c.CropWidth == c.ImageWidth
}

// Packed returns the pixels of the crop as a tightly packed buffer.
// For full-width crops this is a sub-slice of Pixels (not a copy), so callers must treat it as read-only.
func (c ImageCrop) Packed() []byte {
	stride := c.Stride()
	if c.IsFullWidth() {
		return c.Pixels[c.CropY*stride : (c.CropY+c.CropHeight)*stride]
	}
	rowBytes := c.CropWidth * c.NChan
	out := make([]byte, rowBytes*c.CropHeight)
	for y := 0; y < c.CropHeight; y++ {
		src := (c.CropY+y)*stride + c.CropX*c.NChan
		copy(out[y*rowBytes:(y+1)*rowBytes], c.Pixels[src:src+rowBytes])
	}
	return out
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		ImageWidth:  width,
		ImageHeight: height,
		CropX:       0,
		CropY:       0,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because it's a C++ object underneath)
	Close()

	// DetectObjects returns a list of objects detected in the image, with boxes relative to the crop.
	// The image is a 24-bit RGB image.
	// Objects below params.ProbabilityThreshold, or outside of params.Classes, are never returned.
	// You can create a default DetectionParams with NewDetectionParams()
	DetectObjects(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

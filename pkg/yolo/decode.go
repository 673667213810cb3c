package yolo

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/splitcam/pkg/nn"
)

// Transform maps model input coordinates back to the image that was letterboxed into it
type Transform struct {
	Scale   float32 // model pixels per image pixel
	OffsetX float32 // padding on the left, in model pixels
	OffsetY float32 // padding on the top, in model pixels
}

func (t Transform) ToImage(x, y float32) (float32, float32) {
	return (x - t.OffsetX) / t.Scale, (y - t.OffsetY) / t.Scale
}

// NumAnchors is the number of candidate boxes of a YOLOv8 style head (strides 8, 16, 32)
func NumAnchors(width, height int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}

// Decode reads a [1, 4+numClasses, numAnchors] output tensor.
// Each anchor is (cx, cy, w, h, class scores...). The best scoring class of each anchor is kept
// if it passes the threshold and the class filter of params. Boxes are mapped through xform
// and clipped to imgWidth x imgHeight unless params.Unclipped is set.
// Finally, NMS is run separately for each class.
func Decode(output []float32, shape []int64, xform Transform, imgWidth, imgHeight int, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("Unsupported YOLO output shape %v", shape)
	}
	numFeatures := int(shape[1])
	numAnchors := int(shape[2])
	numClasses := numFeatures - 4
	if numClasses <= 0 || len(output) < numFeatures*numAnchors {
		return nil, fmt.Errorf("Invalid YOLO output shape %v for %v values", shape, len(output))
	}

	threshold := params.Threshold()
	w := float32(imgWidth)
	h := float32(imgHeight)
	byClass := map[int][]nn.ObjectDetection{}
	classOrder := []int{}

	for i := 0; i < numAnchors; i++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 0; c < numClasses; c++ {
			score := output[(4+c)*numAnchors+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold || !params.AllowsClass(bestClass) {
			continue
		}

		cx := output[0*numAnchors+i]
		cy := output[1*numAnchors+i]
		bw := output[2*numAnchors+i]
		bh := output[3*numAnchors+i]
		x1, y1 := xform.ToImage(cx-bw/2, cy-bh/2)
		x2, y2 := xform.ToImage(cx+bw/2, cy+bh/2)
		if !params.Unclipped {
			x1 = math32.Max(0, math32.Min(x1, w))
			y1 = math32.Max(0, math32.Min(y1, h))
			x2 = math32.Max(0, math32.Min(x2, w))
			y2 = math32.Max(0, math32.Min(y2, h))
		}
		box := nn.RectFromFloatCorners(x1, y1, x2, y2)
		if !box.IsValid() {
			continue
		}
		if _, ok := byClass[bestClass]; !ok {
			classOrder = append(classOrder, bestClass)
		}
		byClass[bestClass] = append(byClass[bestClass], nn.ObjectDetection{
			Class:      bestClass,
			Confidence: bestScore,
			Box:        box,
		})
	}

	result := []nn.ObjectDetection{}
	for _, class := range classOrder {
		candidates := byClass[class]
		for _, idx := range nn.SuppressOverlaps(candidates, params.NmsIou()) {
			result = append(result, candidates[idx])
		}
	}
	return result, nil
}

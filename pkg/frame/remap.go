package frame

import (
	"github.com/cyclopcam/splitcam/pkg/nn"
)

// Detection is an object found inside a region, with a region-local box
type Detection struct {
	nn.ObjectDetection
	Region Label `json:"region"`
}

// RemappedDetection is a detection whose box has been translated into full-frame coordinates
type RemappedDetection struct {
	Detection
	LocalBox nn.Rect `json:"localBox"` // The box before remapping
}

// Remap translates a region-local detection into frame coordinates.
// Only the y coordinates move, by the region's offset, which is zero for the top region.
func Remap(d Detection, r Region) RemappedDetection {
	out := RemappedDetection{
		Detection: d,
		LocalBox:  d.Box,
	}
	out.Box.Offset(0, int32(r.YOffset))
	return out
}

// RemapAll remaps every detection of a region, preserving order
func RemapAll(dets []Detection, r Region) []RemappedDetection {
	out := make([]RemappedDetection, 0, len(dets))
	for _, d := range dets {
		out = append(out, Remap(d, r))
	}
	return out
}

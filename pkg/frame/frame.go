// Package frame holds the pixel buffers that flow through the diagnostic pipeline,
// and the geometry that splits a stacked dual-lens frame into its two views.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/splitcam/pkg/nn"
)

// NChan is the number of channels of every frame (interleaved RGB)
const NChan = 3

// ErrDegenerateFrame is returned for frames that cannot be split or whose buffer does not match their dimensions
var ErrDegenerateFrame = errors.New("Degenerate frame")

// Frame is a single RGB image obtained from the camera
type Frame struct {
	Width      int
	Height     int
	Pixels     []byte    // Width * Height * 3 bytes, row-major
	CapturedAt time.Time // When the frame was acquired
	Source     string    // Name of the strategy that produced the frame
}

// NewFrame wraps pixels in a Frame, and validates the dimensions
func NewFrame(width, height int, pixels []byte, capturedAt time.Time) (*Frame, error) {
	f := &Frame{
		Width:      width,
		Height:     height,
		Pixels:     pixels,
		CapturedAt: capturedAt,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that the dimensions are positive and match the buffer size
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %vx%v", ErrDegenerateFrame, f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height*NChan {
		return fmt.Errorf("%w: %vx%v needs %v bytes, but buffer has %v", ErrDegenerateFrame, f.Width, f.Height, f.Width*f.Height*NChan, len(f.Pixels))
	}
	return nil
}

// Whole returns an image crop covering the entire frame
func (f *Frame) Whole() nn.ImageCrop {
	return nn.WholeImage(NChan, f.Pixels, f.Width, f.Height)
}

// Bounds is the frame rectangle [0,W) x [0,H)
func (f *Frame) Bounds() nn.Rect {
	return nn.Rect{Width: int32(f.Width), Height: int32(f.Height)}
}

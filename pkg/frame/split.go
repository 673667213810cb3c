package frame

import (
	"fmt"

	"github.com/cyclopcam/splitcam/pkg/nn"
)

// Label identifies one of the two views of a split frame
type Label string

const (
	Top    Label = "top"
	Bottom Label = "bottom"
)

// Region is a non-owning view over a horizontal band of a frame.
// Pixels are never written through a Region. Preprocessing produces a new buffer instead.
type Region struct {
	Label   Label
	YOffset int          // First row of the region inside the parent frame
	Height  int          // Number of rows
	Width   int          // Same as the parent frame
	Image   nn.ImageCrop // Pixels of the region
}

// Split divides a frame into a top and bottom region at floor(H/2).
// The two regions cover [0, H) exactly.
func Split(f *Frame) (top, bottom Region, err error) {
	if err = f.Validate(); err != nil {
		return
	}
	if f.Height < 2 {
		err = fmt.Errorf("%w: height %v is too small to split", ErrDegenerateFrame, f.Height)
		return
	}
	mid := f.Height / 2
	whole := f.Whole()
	top = Region{
		Label:   Top,
		YOffset: 0,
		Height:  mid,
		Width:   f.Width,
		Image:   whole.Crop(0, 0, f.Width, mid),
	}
	bottom = Region{
		Label:   Bottom,
		YOffset: mid,
		Height:  f.Height - mid,
		Width:   f.Width,
		Image:   whole.Crop(0, mid, f.Width, f.Height),
	}
	return
}

// Pixels returns the region's pixels as a packed buffer, which must be treated as read-only
func (r Region) Pixels() []byte {
	return r.Image.Packed()
}

// Bounds is the region rectangle in region-local coordinates
func (r Region) Bounds() nn.Rect {
	return nn.Rect{Width: int32(r.Width), Height: int32(r.Height)}
}

// WithPixels returns a copy of the region whose image is the given packed buffer, which must have the same dimensions.
// The returned region keeps the offset of the original, so remapping is unaffected.
func (r Region) WithPixels(pixels []byte) (Region, error) {
	if len(pixels) != r.Width*r.Height*NChan {
		return Region{}, fmt.Errorf("%w: %v region %vx%v needs %v bytes, got %v", ErrDegenerateFrame, r.Label, r.Width, r.Height, r.Width*r.Height*NChan, len(pixels))
	}
	nr := r
	nr.Image = nn.WholeImage(NChan, pixels, r.Width, r.Height)
	return nr, nil
}

func (r Region) String() string {
	return fmt.Sprintf("%v [%v,%v)", r.Label, r.YOffset, r.YOffset+r.Height)
}

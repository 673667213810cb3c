package source

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/disintegration/imaging"
)

// LoadImageFile decodes an image file into a frame of width x height.
// The image is resized if its dimensions differ.
func LoadImageFile(filename string, width, height int) (*frame.Frame, error) {
	img, err := imaging.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to load %v: %w", filename, err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = imaging.Resize(img, width, height, imaging.Linear)
	}
	return FrameFromImage(img)
}

// OpenImageFile decodes an image file into a frame, at its own resolution
func OpenImageFile(filename string) (*frame.Frame, error) {
	img, err := imaging.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to load %v: %w", filename, err)
	}
	return FrameFromImage(img)
}

// FrameFromImage converts any image into a packed RGB frame
func FrameFromImage(img image.Image) (*frame.Frame, error) {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min.X != 0 || b.Min.Y != 0 {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	pixels := make([]byte, w*h*frame.NChan)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := pixels[y*w*frame.NChan : (y+1)*w*frame.NChan]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return frame.NewFrame(w, h, pixels, time.Time{})
}

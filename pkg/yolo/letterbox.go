package yolo

import (
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/splitcam/pkg/nn"
)

// Gray used by YOLO training for letterbox padding
const padValue = 114

// Letterbox scales the crop to fit inside nnWidth x nnHeight, preserving aspect ratio, and pads the
// right or bottom edge. The result is written into 'tensor' as planar RGB in [0,1].
func Letterbox(img nn.ImageCrop, nnWidth, nnHeight int, tensor []float32) Transform {
	src := cimg.WrapImage(img.CropWidth, img.CropHeight, cimg.PixelFormatRGB, img.Packed())

	scale := min(float32(nnWidth)/float32(img.CropWidth), float32(nnHeight)/float32(img.CropHeight))
	scaledWidth := min(nnWidth, int(float32(img.CropWidth)*scale+0.5))
	scaledHeight := min(nnHeight, int(float32(img.CropHeight)*scale+0.5))

	var scaled *cimg.Image
	if scaledWidth == img.CropWidth && scaledHeight == img.CropHeight {
		scaled = src
	} else {
		resizeParams := cimg.ResizeParams{CheapSRGBFilter: true}
		if scale < 1 {
			// We use box filter for downsampling, in case we have a massive ratio
			resizeParams.Filter = cimg.ResizeFilterBox
		} else {
			resizeParams.Filter = cimg.ResizeFilterTriangle
		}
		scaled = cimg.ResizeNew(src, scaledWidth, scaledHeight, &resizeParams)
	}

	plane := nnWidth * nnHeight
	pad := float32(padValue) / 255
	for i := range tensor[:3*plane] {
		tensor[i] = pad
	}
	for y := 0; y < scaledHeight; y++ {
		row := scaled.Pixels[y*scaled.Stride:]
		for x := 0; x < scaledWidth; x++ {
			p := y*nnWidth + x
			tensor[p] = float32(row[x*3]) / 255
			tensor[plane+p] = float32(row[x*3+1]) / 255
			tensor[2*plane+p] = float32(row[x*3+2]) / 255
		}
	}

	return Transform{Scale: scale}
}

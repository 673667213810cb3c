package artifacts

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/gen"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	SplitLineColor = color.RGBA{255, 255, 0, 255}
	TopBoxColor    = color.RGBA{0, 255, 0, 255}
	BottomBoxColor = color.RGBA{255, 64, 0, 255}
)

// ToImage wraps a copy of the frame's pixels in an image.RGBA
func ToImage(f *frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pixels[y*f.Width*frame.NChan : (y+1)*f.Width*frame.NChan]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 255
		}
	}
	return img
}

// Annotate draws the split line and every detection box onto a copy of the frame.
// classes maps class numbers to names, for the box labels.
func Annotate(f *frame.Frame, splitY int, dets []frame.RemappedDetection, classes []string) image.Image {
	dc := gg.NewContextForImage(ToImage(f))

	dc.SetColor(SplitLineColor)
	dc.SetLineWidth(2)
	dc.DrawLine(0, float64(splitY), float64(f.Width), float64(splitY))
	dc.Stroke()

	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: 14}))
	for _, d := range dets {
		c := TopBoxColor
		if d.Region == frame.Bottom {
			c = BottomBoxColor
		}
		dc.SetColor(c)
		dc.SetLineWidth(2)
		dc.DrawRectangle(float64(d.Box.X), float64(d.Box.Y), float64(d.Box.Width), float64(d.Box.Height))
		dc.Stroke()

		name := fmt.Sprintf("class%v", d.Class)
		if d.Class >= 0 && d.Class < len(classes) {
			name = classes[d.Class]
		}
		// Keep labels of boxes that touch the top edge inside the image
		labelY := gen.Clamp(float64(d.Box.Y)-2, 14, float64(f.Height))
		dc.DrawStringAnchored(fmt.Sprintf("%v %.2f", name, d.Confidence), float64(d.Box.X)+2, labelY, 0, 0)
	}
	return dc.Image()
}

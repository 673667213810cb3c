package source

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// gocvCapture reads frames through OpenCV's VideoCapture
type gocvCapture struct {
	capture *gocv.VideoCapture
	bgr     gocv.Mat
	width   int // Output size. Frames of a different size are resized.
	height  int
}

// OpenCapture opens a stream URL or device with OpenCV. Frames are resized to width x height.
func OpenCapture(url string, width, height int) (CaptureHandle, error) {
	capture, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, err
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("Unable to open %v", url)
	}
	// Keep latency low. We want the newest frame, not a queued one.
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	return &gocvCapture{
		capture: capture,
		bgr:     gocv.NewMat(),
		width:   width,
		height:  height,
	}, nil
}

func (c *gocvCapture) Read() ([]byte, int, int, error) {
	if ok := c.capture.Read(&c.bgr); !ok {
		return nil, 0, 0, errors.New("Failed to read frame from capture")
	}
	if c.bgr.Empty() {
		return nil, 0, 0, errors.New("Capture returned an empty frame")
	}

	src := c.bgr
	if c.bgr.Cols() != c.width || c.bgr.Rows() != c.height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(c.bgr, &resized, image.Pt(c.width, c.height), 0, 0, gocv.InterpolationLinear)
		src = resized
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(src, &rgb, gocv.ColorBGRToRGB)
	return rgb.ToBytes(), rgb.Cols(), rgb.Rows(), nil
}

func (c *gocvCapture) Close() error {
	c.bgr.Close()
	return c.capture.Close()
}

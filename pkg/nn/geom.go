package nn

import (
	"github.com/chewxy/math32"
)

// Rect is an axis-aligned box. X2() and Y2() are exclusive.
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Make a Rect from corners (x1,y1) and (x2,y2)
func RectFromCorners(x1, y1, x2, y2 int32) Rect {
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Make a Rect from floating point corners, rounding to the nearest pixel
func RectFromFloatCorners(x1, y1, x2, y2 float32) Rect {
	return RectFromCorners(int32(math32.Round(x1)), int32(math32.Round(y1)), int32(math32.Round(x2)), int32(math32.Round(y2)))
}

func (r Rect) X2() int32 {
	return r.X + r.Width
}

func (r Rect) Y2() int32 {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return int(r.Width) * int(r.Height)
}

// AspectRatio is width/height, or 0 if the height is not positive
func (r Rect) AspectRatio() float32 {
	if r.Height <= 0 {
		return 0
	}
	return float32(r.Width) / float32(r.Height)
}

// Returns true if r has positive width and height
func (r Rect) IsValid() bool {
	return r.Width > 0 && r.Height > 0
}

// Returns true if b lies entirely inside r
func (r Rect) Contains(b Rect) bool {
	return b.X >= r.X && b.Y >= r.Y && b.X2() <= r.X2() && b.Y2() <= r.Y2()
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

func (r *Rect) Offset(dx, dy int32) {
	r.X += dx
	r.Y += dy
}

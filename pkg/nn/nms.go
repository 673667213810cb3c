package nn

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// SuppressOverlaps performs greedy non-maximum suppression.
// Objects are visited from highest to lowest confidence. An object is dropped if its IoU with an
// already retained object is >= minIoU. Equal confidences keep their input order, so the
// first-seen object wins a tie.
// Returns the indices of the retained objects, ordered by descending confidence.
// Running the function again on its own output retains everything.
func SuppressOverlaps(input []ObjectDetection, minIoU float32) []int {
	if len(input) == 0 {
		return []int{}
	}

	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ca, cb := input[a].Confidence, input[b].Confidence
		if ca > cb {
			return -1
		} else if ca < cb {
			return 1
		}
		return 0
	})
	rank := make([]int, len(input))
	for r, i := range order {
		rank[i] = r
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(b.Box.X, b.Box.Y, b.Box.X2(), b.Box.Y2())
	}
	fb.Finish()

	deleted := make([]bool, len(input))
	retain := make([]int, 0, len(input))
	for _, i := range order {
		if deleted[i] {
			continue
		}
		retain = append(retain, i)
		box := input[i].Box
		for _, j := range fb.Search(box.X, box.Y, box.X2(), box.Y2()) {
			// Only objects of lower rank can be suppressed by i. Higher ranked objects have already been decided.
			if j == i || deleted[j] || rank[j] < rank[i] {
				continue
			}
			if box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}
	return retain
}

package nn

import (
	"github.com/bmharper/tiledinference"
)

// Run tiled inference on the image.
// We look at the width and height of the model, and if the image is larger, then we split the image
// up into tiles, and run each of those tiles through the model. Then, we merge the tiles back
// into a single dataset.
// If the model is larger than the image, then we just run the model directly, so it is safe
// to call TiledInference on any image, without incurring any performance loss.
// Tiles are processed one after another on the calling goroutine.
// Results are relative to the crop, not the whole image held by 'img'.
func TiledInference(model ObjectDetector, img ImageCrop, _params *DetectionParams) ([]ObjectDetection, error) {
	config := model.Config()

	// Boxes are clipped once, after merging
	params := *_params
	params.Unclipped = true

	// This is somewhat arbitrary, and should probably be some multiple of the model size.
	minPadding := 32

	tiling := tiledinference.MakeTiling(img.CropWidth, img.CropHeight, config.Width, config.Height, minPadding)

	allObjects := []ObjectDetection{}
	allBoxes := []tiledinference.Box{}
	for ty := 0; ty < tiling.NumY; ty++ {
		for tx := 0; tx < tiling.NumX; tx++ {
			objects, boxes, err := detectTile(model, &params, tiling, tx, ty, img)
			if err != nil {
				return nil, err
			}
			allObjects = append(allObjects, objects...)
			allBoxes = append(allBoxes, boxes...)
		}
	}

	finalClip := Rect{
		X:      0,
		Y:      0,
		Width:  int32(img.CropWidth),
		Height: int32(img.CropHeight),
	}

	merged := []ObjectDetection{}
	if tiling.IsSingle() {
		merged = allObjects
		for i := range merged {
			merged[i].Box = merged[i].Box.Intersection(finalClip)
		}
	} else {
		groups, mergedBoxes := tiledinference.MergeBoxes(tiling, allBoxes, nil)
		for igroup, group := range groups {
			// Start with the first object in the group
			newObj := allObjects[group[0]]
			r := mergedBoxes[igroup]

			// Use the merged box, which can be larger than the first object in the group
			newObj.Box = Rect{X: int32(r.Rect.X1), Y: int32(r.Rect.Y1), Width: int32(r.Rect.Width()), Height: int32(r.Rect.Height())}
			newObj.Box = newObj.Box.Intersection(finalClip)

			// Use max(confidence) from all objects in the group
			for _, el := range group[1:] {
				newObj.Confidence = max(newObj.Confidence, allObjects[el].Confidence)
			}

			merged = append(merged, newObj)
		}
	}

	// Clipping can collapse a box that hung over the edge
	valid := merged[:0]
	for _, obj := range merged {
		if obj.Box.IsValid() {
			valid = append(valid, obj)
		}
	}
	return valid, nil
}

// Returns two parallel arrays
func detectTile(model ObjectDetector, params *DetectionParams, tiling tiledinference.Tiling, tx, ty int, img ImageCrop) ([]ObjectDetection, []tiledinference.Box, error) {
	tileRect := tiling.TileRect(tx, ty)
	crop := img.Crop(int(tileRect.X1), int(tileRect.Y1), int(tileRect.X2), int(tileRect.Y2))
	objects, err := model.DetectObjects(crop, params)
	if err != nil {
		return nil, nil, err
	}
	boxes := []tiledinference.Box{}
	for i, obj := range objects {
		box := tiledinference.Box{
			Rect: tiledinference.Rect{
				X1: obj.Box.X,
				Y1: obj.Box.Y,
				X2: obj.Box.X2(),
				Y2: obj.Box.Y2(),
			},
			Class: int32(obj.Class),
			Tile:  tiling.MakeTileIndex(tx, ty),
		}
		box.Rect.Offset(int32(tileRect.X1), int32(tileRect.Y1))
		objects[i].Box.Offset(int32(tileRect.X1), int32(tileRect.Y1))
		boxes = append(boxes, box)
	}
	return objects, boxes, nil
}

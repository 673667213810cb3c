package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/iox"
)

const snapshotTimeFormat = "20060102_150405"

// SnapshotName is the filename of a snapshot taken at t. Names sort chronologically.
func SnapshotName(t time.Time) string {
	return "snapshot_" + t.Format(snapshotTimeFormat) + ".jpg"
}

// LatestSnapshot returns the path of the most recent image file in dir, ordered by name
func LatestSnapshot(dir string) (string, error) {
	files, err := listImages(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w in %v", ErrNoSnapshots, dir)
		}
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %v", ErrNoSnapshots, dir)
	}
	return filepath.Join(dir, files[len(files)-1]), nil
}

// SaveSnapshot writes f into dir as a JPEG, and returns the full path
func SaveSnapshot(dir string, f *frame.Frame) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	img := cimg.WrapImage(f.Width, f.Height, cimg.PixelFormatRGB, f.Pixels)
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 90, 0))
	if err != nil {
		return "", err
	}
	filename := filepath.Join(dir, SnapshotName(f.CapturedAt))
	if err := iox.WriteFileAtomic(filename, bytes.NewReader(jpg)); err != nil {
		return "", err
	}
	return filename, nil
}

// SnapshotStrategy loads the most recent previously saved image
type SnapshotStrategy struct {
	clock  clock.Clock
	dir    string
	width  int
	height int
}

func NewSnapshotStrategy(clock clock.Clock, dir string, width, height int) *SnapshotStrategy {
	return &SnapshotStrategy{
		clock:  clock,
		dir:    dir,
		width:  width,
		height: height,
	}
}

func (s *SnapshotStrategy) Name() string {
	return StrategySnapshot
}

func (s *SnapshotStrategy) Acquire(ctx context.Context) (*frame.Frame, error) {
	filename, err := LatestSnapshot(s.dir)
	if err != nil {
		return nil, err
	}
	f, err := LoadImageFile(filename, s.width, s.height)
	if err != nil {
		return nil, err
	}
	f.CapturedAt = s.clock.Now()
	return f, nil
}

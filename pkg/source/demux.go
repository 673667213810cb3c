package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/cyclopcam/splitcam/pkg/frame"
)

// Pause before relaunching a decoder that produced an incomplete frame
const relaunchDelay = 100 * time.Millisecond

// Demuxer launches an external decoder for the camera stream.
// Cancelling ctx must terminate the decoder.
type Demuxer interface {
	// StreamRaw starts the decoder, which writes packed rgb24 frames of width x height to the returned reader.
	// Closing the reader stops the decoder.
	StreamRaw(ctx context.Context, width, height int) (io.ReadCloser, error)

	// WriteImages decodes 'count' frames into dir as JPEG files, and returns when the decoder exits.
	WriteImages(ctx context.Context, dir string, count, width, height int) error
}

// ReadRawFrame reads exactly one width*height*3 frame from r.
// If the stream ends before the frame is complete, ErrShortRead is returned.
func ReadRawFrame(r io.Reader, width, height int) ([]byte, error) {
	buf := make([]byte, width*height*frame.NChan)
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return buf, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: got %v of %v bytes", ErrShortRead, n, len(buf))
	}
	return nil, err
}

// DemuxStrategy acquires frames through a Demuxer
type DemuxStrategy struct {
	log        logs.Log
	clock      clock.Clock
	demuxer    Demuxer
	mode       string
	timeout    time.Duration
	width      int
	height     int
	grabFrames int
}

func NewDemuxStrategy(log logs.Log, clock clock.Clock, demuxer Demuxer, mode string, timeout time.Duration, width, height, grabFrames int) *DemuxStrategy {
	return &DemuxStrategy{
		log:        log,
		clock:      clock,
		demuxer:    demuxer,
		mode:       mode,
		timeout:    timeout,
		width:      width,
		height:     height,
		grabFrames: max(1, grabFrames),
	}
}

func (d *DemuxStrategy) Name() string {
	return StrategyDemux
}

func (d *DemuxStrategy) Acquire(ctx context.Context) (*frame.Frame, error) {
	tctx, cancel := d.clock.WithTimeout(ctx, d.timeout)
	defer cancel()

	var f *frame.Frame
	var err error
	if d.mode == config.DemuxModeImages {
		f, err = d.acquireImages(tctx)
	} else {
		f, err = d.acquireRaw(tctx)
	}
	if err == nil {
		return f, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if tctx.Err() != nil {
		return nil, fmt.Errorf("%w: decoder gave no frame within %v (%v)", ErrReadTimeout, d.timeout, err)
	}
	return nil, err
}

// Read raw frames from a decoder process. A short read is a dropped frame, so we relaunch
// the decoder until we have a frame or the timeout expires.
func (d *DemuxStrategy) acquireRaw(ctx context.Context) (*frame.Frame, error) {
	for attempt := 1; ; attempt++ {
		stream, err := d.demuxer.StreamRaw(ctx, d.width, d.height)
		if err != nil {
			return nil, fmt.Errorf("Failed to start decoder: %w", err)
		}
		frames, readErr := d.readFrames(stream)
		closeErr := stream.Close()

		if len(frames) != 0 {
			// Use the middle frame, which gives the decoder time to settle after the first keyframe
			pixels := frames[len(frames)/2]
			return frame.NewFrame(d.width, d.height, pixels, d.clock.Now())
		}
		if ctx.Err() != nil {
			return nil, readErr
		}
		if !errors.Is(readErr, ErrShortRead) {
			return nil, readErr
		}
		if closeErr != nil {
			// The decoder exited by itself, with an error. Trying again won't help.
			return nil, fmt.Errorf("%v (decoder: %w)", readErr, closeErr)
		}
		d.log.Warnf("Dropped incomplete frame from decoder (attempt %v): %v", attempt, readErr)
		select {
		case <-ctx.Done():
			return nil, readErr
		case <-d.clock.After(relaunchDelay):
		}
	}
}

// Reads up to grabFrames frames. Returns whatever complete frames were read before the first error.
func (d *DemuxStrategy) readFrames(r io.Reader) ([][]byte, error) {
	frames := [][]byte{}
	for len(frames) < d.grabFrames {
		buf, err := ReadRawFrame(r, d.width, d.height)
		if err != nil {
			return frames, err
		}
		frames = append(frames, buf)
	}
	return frames, nil
}

func (d *DemuxStrategy) acquireImages(ctx context.Context) (*frame.Frame, error) {
	dir, err := os.MkdirTemp("", "splitcam-demux-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := d.demuxer.WriteImages(ctx, dir, d.grabFrames, d.width, d.height); err != nil {
		return nil, fmt.Errorf("Decoder failed: %w", err)
	}
	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("Decoder exited without writing any images")
	}
	f, err := LoadImageFile(filepath.Join(dir, files[len(files)/2]), d.width, d.height)
	if err != nil {
		return nil, err
	}
	f.CapturedAt = d.clock.Now()
	return f, nil
}

// Returns the sorted names of the JPEG files in dir
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

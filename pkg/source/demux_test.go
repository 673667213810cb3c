package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// Each call to StreamRaw returns the next stream in the list
type fakeDemuxer struct {
	streams  [][]byte
	closeErr error
	launches int
	images   []*fakeImage
}

type fakeImage struct {
	name  string
	value byte
}

type fakeStream struct {
	io.Reader
	closeErr error
}

func (f *fakeStream) Close() error {
	return f.closeErr
}

func (f *fakeDemuxer) StreamRaw(ctx context.Context, width, height int) (io.ReadCloser, error) {
	if f.launches >= len(f.streams) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := f.streams[f.launches]
	f.launches++
	return &fakeStream{Reader: bytes.NewReader(s), closeErr: f.closeErr}, nil
}

func (f *fakeDemuxer) WriteImages(ctx context.Context, dir string, count, width, height int) error {
	for _, img := range f.images {
		gray := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(gray, gray.Bounds(), &image.Uniform{color.NRGBA{img.value, img.value, img.value, 255}}, image.Point{}, draw.Src)
		if err := imaging.Save(gray, filepath.Join(dir, img.name)); err != nil {
			return err
		}
	}
	return nil
}

func rawFrames(w, h int, values ...byte) []byte {
	out := []byte{}
	for _, v := range values {
		out = append(out, solidFrame(w, h, v).Pixels...)
	}
	return out
}

func TestReadRawFrame(t *testing.T) {
	buf, err := ReadRawFrame(bytes.NewReader(rawFrames(4, 2, 7)), 4, 2)
	require.NoError(t, err)
	require.Len(t, buf, 24)

	_, err = ReadRawFrame(bytes.NewReader(make([]byte, 10)), 4, 2)
	require.ErrorIs(t, err, ErrShortRead)

	_, err = ReadRawFrame(bytes.NewReader(nil), 4, 2)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestDemuxMiddleFrame(t *testing.T) {
	dm := &fakeDemuxer{streams: [][]byte{rawFrames(4, 2, 10, 20, 30)}}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeRaw, 5*time.Second, 4, 2, 3)
	f, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(20), f.Pixels[0])
	require.Equal(t, 1, dm.launches)
}

func TestDemuxPartialGrab(t *testing.T) {
	// Only two of three frames arrive. We still use what we have.
	dm := &fakeDemuxer{streams: [][]byte{rawFrames(4, 2, 10, 20)}}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeRaw, 5*time.Second, 4, 2, 3)
	f, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(20), f.Pixels[0])
}

func TestDemuxShortReadRelaunches(t *testing.T) {
	dm := &fakeDemuxer{streams: [][]byte{
		make([]byte, 5),
		rawFrames(4, 2, 42),
	}}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeRaw, 5*time.Second, 4, 2, 1)
	f, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(42), f.Pixels[0])
	require.Equal(t, 2, dm.launches)
}

func TestDemuxDecoderError(t *testing.T) {
	decoderErr := errors.New("Connection refused")
	dm := &fakeDemuxer{streams: [][]byte{nil, nil}, closeErr: decoderErr}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeRaw, 5*time.Second, 4, 2, 1)
	_, err := d.Acquire(context.Background())
	require.ErrorIs(t, err, decoderErr)
	require.Equal(t, 1, dm.launches)
}

func TestDemuxTimeout(t *testing.T) {
	// The decoder never produces a stream
	dm := &fakeDemuxer{}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeRaw, 30*time.Millisecond, 4, 2, 1)
	_, err := d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)
}

func TestDemuxImages(t *testing.T) {
	dm := &fakeDemuxer{images: []*fakeImage{
		{"frame_001.jpg", 10},
		{"frame_002.jpg", 128},
		{"frame_003.jpg", 240},
	}}
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), dm, config.DemuxModeImages, 5*time.Second, 32, 16, 3)
	f, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 32, f.Width)
	require.Equal(t, 16, f.Height)
	require.InDelta(t, 128, int(f.Pixels[0]), 3)
}

func TestDemuxImagesNoOutput(t *testing.T) {
	d := NewDemuxStrategy(logs.NewTestingLog(t), clock.New(), &fakeDemuxer{}, config.DemuxModeImages, 5*time.Second, 32, 16, 3)
	_, err := d.Acquire(context.Background())
	require.Error(t, err)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_002.jpg", "frame_001.jpg", ".hidden.jpg", "notes.txt", "frame_003.JPEG"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	names, err := listImages(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"frame_001.jpg", "frame_002.jpg", "frame_003.JPEG"}, names)
}

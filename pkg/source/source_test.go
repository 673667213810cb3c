package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name  string
	err   error
	frame *frame.Frame
	calls int
}

func (f *fakeStrategy) Name() string {
	return f.name
}

func (f *fakeStrategy) Acquire(ctx context.Context) (*frame.Frame, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func solidFrame(w, h int, v byte) *frame.Frame {
	pixels := make([]byte, w*h*frame.NChan)
	for i := range pixels {
		pixels[i] = v
	}
	return &frame.Frame{Width: w, Height: h, Pixels: pixels}
}

func TestFirstSuccessWins(t *testing.T) {
	direct := &fakeStrategy{name: StrategyDirect, err: errors.New("device busy")}
	demux := &fakeStrategy{name: StrategyDemux, frame: solidFrame(8, 4, 10)}
	snapshot := &fakeStrategy{name: StrategySnapshot, frame: solidFrame(8, 4, 20)}
	clk := clock.NewMock()
	src := New(logs.NewTestingLog(t), clk, direct, demux, snapshot)

	f, err := src.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, StrategyDemux, f.Source)
	require.Equal(t, clk.Now(), f.CapturedAt)
	require.Equal(t, 1, direct.calls)
	require.Equal(t, 1, demux.calls)
	require.Equal(t, 0, snapshot.calls)
}

func TestInvalidFrameFallsThrough(t *testing.T) {
	bad := solidFrame(8, 4, 0)
	bad.Pixels = bad.Pixels[:10]
	direct := &fakeStrategy{name: StrategyDirect, frame: bad}
	snapshot := &fakeStrategy{name: StrategySnapshot, frame: solidFrame(8, 4, 20)}
	src := New(logs.NewTestingLog(t), clock.NewMock(), direct, snapshot)

	f, err := src.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, StrategySnapshot, f.Source)
}

func TestAllStrategiesFail(t *testing.T) {
	direct := &fakeStrategy{name: StrategyDirect, err: fmt.Errorf("%w: no frame after 5s", ErrReadTimeout)}
	demux := &fakeStrategy{name: StrategyDemux, err: errors.New("ffmpeg not found")}
	snapshot := &fakeStrategy{name: StrategySnapshot, err: fmt.Errorf("%w in snapshots", ErrNoSnapshots)}
	src := New(logs.NewTestingLog(t), clock.NewMock(), direct, demux, snapshot)

	f, err := src.Acquire(context.Background())
	require.Nil(t, f)
	var failure *AcquisitionFailure
	require.ErrorAs(t, err, &failure)
	require.Len(t, failure.Reasons, 3)
	require.Equal(t, StrategyDirect, failure.Reasons[0].Strategy)
	require.Equal(t, StrategyDemux, failure.Reasons[1].Strategy)
	require.Equal(t, StrategySnapshot, failure.Reasons[2].Strategy)
	require.ErrorIs(t, err, ErrReadTimeout)
	require.ErrorIs(t, err, ErrNoSnapshots)
	require.Contains(t, err.Error(), "ffmpeg not found")
	require.Contains(t, failure.Summary(), "demux: ffmpeg not found")
}

func TestNoStrategies(t *testing.T) {
	src := New(logs.NewTestingLog(t), clock.NewMock())
	_, err := src.Acquire(context.Background())
	var failure *AcquisitionFailure
	require.ErrorAs(t, err, &failure)
	require.Empty(t, failure.Reasons)
}

func TestCancelledAcquire(t *testing.T) {
	direct := &fakeStrategy{name: StrategyDirect, frame: solidFrame(8, 4, 10)}
	src := New(logs.NewTestingLog(t), clock.NewMock(), direct)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, direct.calls)
}

func TestSaveLiveFrames(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC))
	direct := &fakeStrategy{name: StrategyDirect, frame: solidFrame(64, 32, 90)}
	src := New(logs.NewTestingLog(t), clk, direct)
	src.SaveLiveFramesTo(dir)

	_, err := src.Acquire(context.Background())
	require.NoError(t, err)
	latest, err := LatestSnapshot(dir)
	require.NoError(t, err)
	require.Contains(t, latest, "snapshot_20240301_123045.jpg")
}

type blockingHandle struct {
	release           chan struct{}
	reads             atomic.Int32
	reading           atomic.Bool
	closed            atomic.Bool
	closedWhileInRead atomic.Bool
}

func (b *blockingHandle) Read() ([]byte, int, int, error) {
	b.reads.Add(1)
	b.reading.Store(true)
	defer b.reading.Store(false)
	<-b.release
	return make([]byte, 4*2*3), 4, 2, nil
}

func (b *blockingHandle) Close() error {
	if b.reading.Load() {
		b.closedWhileInRead.Store(true)
	}
	b.closed.Store(true)
	return nil
}

func TestDirectOpenFailureIsImmediate(t *testing.T) {
	openErr := errors.New("Unable to open rtsp://camera")
	d := NewDirectStrategy(clock.NewMock(), nil, openErr, time.Hour)
	_, err := d.Acquire(context.Background())
	require.ErrorIs(t, err, openErr)

	d = NewDirectStrategy(clock.NewMock(), nil, nil, time.Hour)
	_, err = d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrNotAvailable)
}

func TestDirectTimeout(t *testing.T) {
	h := &blockingHandle{release: make(chan struct{})}
	d := NewDirectStrategy(clock.New(), h, nil, 20*time.Millisecond)
	_, err := d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)

	// The stale read is reused rather than overlapped
	_, err = d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)
	require.EqualValues(t, 1, h.reads.Load())

	close(h.release)
	d.timeout = time.Second
	f, err := d.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, f.Width)
	require.Equal(t, 2, f.Height)
}

func TestDirectCloseWaitsForRead(t *testing.T) {
	// The stale read finishes within closeWait
	h := &blockingHandle{release: make(chan struct{})}
	d := NewDirectStrategy(clock.New(), h, nil, 10*time.Millisecond)
	_, err := d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(h.release)
	}()
	d.Close()
	require.True(t, h.closed.Load())
	require.False(t, h.closedWhileInRead.Load())

	// The stale read outlives closeWait, so closing is deferred until it returns
	h = &blockingHandle{release: make(chan struct{})}
	d = NewDirectStrategy(clock.New(), h, nil, 10*time.Millisecond)
	d.closeWait = 10 * time.Millisecond
	_, err = d.Acquire(context.Background())
	require.ErrorIs(t, err, ErrReadTimeout)
	d.Close()
	require.False(t, h.closed.Load())
	close(h.release)
	require.Eventually(t, h.closed.Load, time.Second, 5*time.Millisecond)
	require.False(t, h.closedWhileInRead.Load())
}

package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/splitcam/pkg/frame"
)

// CaptureHandle is a native capture device or stream, opened once and read many times
type CaptureHandle interface {
	// Read blocks until the next frame is decoded, and returns it as packed RGB
	Read() (pixels []byte, width, height int, err error)
	Close() error
}

type readResult struct {
	pixels []byte
	width  int
	height int
	err    error
}

// DirectStrategy reads from a capture handle that was opened at startup.
// If opening failed, every Acquire fails immediately with the open error.
type DirectStrategy struct {
	clock   clock.Clock
	handle  CaptureHandle
	openErr error
	timeout time.Duration

	// How long Close waits for a read that is still running
	closeWait time.Duration

	// A read that outlives its timeout keeps running in the background.
	// We must not issue another read on the handle until it finishes.
	lock    sync.Mutex
	pending chan readResult
}

// NewDirectStrategy takes the result of opening the capture handle
func NewDirectStrategy(clock clock.Clock, handle CaptureHandle, openErr error, timeout time.Duration) *DirectStrategy {
	if handle == nil && openErr == nil {
		openErr = ErrNotAvailable
	}
	return &DirectStrategy{
		clock:     clock,
		handle:    handle,
		openErr:   openErr,
		timeout:   timeout,
		closeWait: 2 * time.Second,
	}
}

func (d *DirectStrategy) Name() string {
	return StrategyDirect
}

func (d *DirectStrategy) Acquire(ctx context.Context) (*frame.Frame, error) {
	if d.openErr != nil {
		return nil, fmt.Errorf("Capture handle is not open: %w", d.openErr)
	}

	d.lock.Lock()
	ch := d.pending
	if ch == nil {
		ch = make(chan readResult, 1)
		d.pending = ch
		go func() {
			pixels, width, height, err := d.handle.Read()
			ch <- readResult{pixels, width, height, err}
		}()
	}
	d.lock.Unlock()

	timer := d.clock.Timer(d.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame from capture handle after %v", ErrReadTimeout, d.timeout)
	case res := <-ch:
		d.lock.Lock()
		d.pending = nil
		d.lock.Unlock()
		if res.err != nil {
			return nil, res.err
		}
		return frame.NewFrame(res.width, res.height, res.pixels, d.clock.Now())
	}
}

// Close closes the capture handle, but never while a read is still inside it.
// If a timed out read is still running after closeWait, the handle is closed once that read returns.
func (d *DirectStrategy) Close() {
	if d.handle == nil {
		return
	}
	d.lock.Lock()
	ch := d.pending
	d.pending = nil
	d.lock.Unlock()

	if ch != nil {
		timer := d.clock.Timer(d.closeWait)
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
			go func() {
				<-ch
				d.handle.Close()
			}()
			return
		}
	}
	d.handle.Close()
}

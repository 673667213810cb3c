// Package source obtains single frames from a camera, trying a fixed list of acquisition strategies in order.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"go.uber.org/multierr"
)

// Strategy names
const (
	StrategyDirect   = "direct"
	StrategyDemux    = "demux"
	StrategySnapshot = "snapshot"
)

var (
	ErrReadTimeout  = errors.New("Read timed out")
	ErrShortRead    = errors.New("Short read")
	ErrNoSnapshots  = errors.New("No snapshot files")
	ErrNotAvailable = errors.New("Strategy not available")
)

// Strategy is one way of obtaining a frame
type Strategy interface {
	Name() string
	// Acquire returns one frame, or an error explaining why it could not.
	// Implementations bound their own running time.
	Acquire(ctx context.Context) (*frame.Frame, error)
}

// StrategyFailure is the reason that one strategy did not produce a frame
type StrategyFailure struct {
	Strategy string
	Err      error
}

func (f StrategyFailure) Error() string {
	return fmt.Sprintf("%v: %v", f.Strategy, f.Err)
}

func (f StrategyFailure) Unwrap() error {
	return f.Err
}

// AcquisitionFailure is returned when every strategy failed
type AcquisitionFailure struct {
	Reasons []StrategyFailure
}

func (e *AcquisitionFailure) Error() string {
	if len(e.Reasons) == 0 {
		return "No acquisition strategies are configured"
	}
	return "All acquisition strategies failed: " + e.Combined().Error()
}

// Combined returns the reasons as a single multierr error
func (e *AcquisitionFailure) Combined() error {
	var err error
	for _, r := range e.Reasons {
		err = multierr.Append(err, r)
	}
	return err
}

// Unwrap allows errors.Is(err, ErrReadTimeout) and friends
func (e *AcquisitionFailure) Unwrap() []error {
	return multierr.Errors(e.Combined())
}

// Summary is a multi-line description, one strategy per line
func (e *AcquisitionFailure) Summary() string {
	lines := []string{}
	for _, r := range e.Reasons {
		lines = append(lines, "  "+r.Error())
	}
	return strings.Join(lines, "\n")
}

// Source tries its strategies in order, until one produces a valid frame
type Source struct {
	log        logs.Log
	clock      clock.Clock
	strategies []Strategy
	saveLiveTo string // If not empty, live frames are also written here as snapshots
}

func New(log logs.Log, clock clock.Clock, strategies ...Strategy) *Source {
	return &Source{
		log:        log,
		clock:      clock,
		strategies: strategies,
	}
}

// SaveLiveFramesTo writes every frame from a live strategy into dir, for the snapshot fallback
func (s *Source) SaveLiveFramesTo(dir string) {
	s.saveLiveTo = dir
}

func (s *Source) Strategies() []Strategy {
	return s.strategies
}

// Close releases any strategies that hold resources
func (s *Source) Close() {
	for _, st := range s.strategies {
		if c, ok := st.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Acquire returns a frame from the first strategy that succeeds.
// If the context is cancelled, the context's error is returned instead of an AcquisitionFailure.
func (s *Source) Acquire(ctx context.Context) (*frame.Frame, error) {
	failure := &AcquisitionFailure{}
	for _, st := range s.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := s.clock.Now()
		f, err := st.Acquire(ctx)
		if err == nil {
			err = f.Validate()
		}
		if err == nil {
			f.Source = st.Name()
			if f.CapturedAt.IsZero() {
				f.CapturedAt = s.clock.Now()
			}
			s.log.Infof("Acquired %vx%v frame via %v in %v", f.Width, f.Height, st.Name(), s.clock.Since(start).Round(time.Millisecond))
			s.saveLive(f)
			return f, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.log.Warnf("Acquisition via %v failed: %v", st.Name(), err)
		failure.Reasons = append(failure.Reasons, StrategyFailure{Strategy: st.Name(), Err: err})
	}
	return nil, failure
}

func (s *Source) saveLive(f *frame.Frame) {
	if s.saveLiveTo == "" || f.Source == StrategySnapshot {
		return
	}
	if filename, err := SaveSnapshot(s.saveLiveTo, f); err != nil {
		s.log.Warnf("Failed to save snapshot: %v", err)
	} else {
		s.log.Debugf("Saved snapshot %v", filename)
	}
}

package source

import (
	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/config"
)

// FromConfig builds a Source with the enabled strategies, in the fixed order direct, demux, snapshot.
// The direct capture handle is opened here, once. If that fails, the direct strategy stays in
// the chain and reports the open error on every acquisition.
func FromConfig(log logs.Log, clk clock.Clock, c *config.SourceConfig) *Source {
	strategies := []Strategy{}
	if c.Direct.Enabled {
		handle, err := OpenCapture(c.URL, c.Width, c.Height)
		if err != nil {
			log.Warnf("Failed to open direct capture of %v: %v", c.URL, err)
		}
		strategies = append(strategies, NewDirectStrategy(clk, handle, err, c.Direct.Timeout))
	}
	if c.Demux.Enabled {
		demuxer := NewFFmpegDemuxer(log, c.URL, c.Transport, c.Demux.Timeout)
		strategies = append(strategies, NewDemuxStrategy(log, clk, demuxer, c.Demux.Mode, c.Demux.Timeout, c.Width, c.Height, c.GrabFrames))
	}
	if c.Snapshot.Enabled {
		strategies = append(strategies, NewSnapshotStrategy(clk, c.Snapshot.Dir, c.Width, c.Height))
	}
	src := New(log, clk, strategies...)
	if c.Snapshot.Enabled && c.Snapshot.SaveLive {
		src.SaveLiveFramesTo(c.Snapshot.Dir)
	}
	return src
}

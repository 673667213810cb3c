package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/url"
)

// ProbeResult describes an RTSP stream without decoding it
type ProbeResult struct {
	Title  string
	Medias []string // eg "video: H264"
}

func (p *ProbeResult) String() string {
	return fmt.Sprintf("title=%q medias=[%v]", p.Title, strings.Join(p.Medias, ", "))
}

// Probe connects to an RTSP server and lists the media it publishes.
// It is used to tell a dead camera apart from a decoding problem.
func Probe(ctx context.Context, address string, timeout time.Duration) (*ProbeResult, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "rtsp" && u.Scheme != "rtsps" {
		return nil, fmt.Errorf("Not an RTSP URL: %v", address)
	}

	c := gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := c.Start(u.Scheme, u.Host); err != nil {
		return nil, err
	}

	// The client has no context support, so closing it is how we abort
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	defer c.Close()

	session, _, err := c.Describe(u)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	res := &ProbeResult{
		Title: session.Title,
	}
	for _, media := range session.Medias {
		codecs := []string{}
		for _, f := range media.Formats {
			codecs = append(codecs, f.Codec())
		}
		res.Medias = append(res.Medias, fmt.Sprintf("%v: %v", media.Type, strings.Join(codecs, "+")))
	}
	return res, nil
}

package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/shell"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/sys/unix"
)

// FFmpegDemuxer runs ffmpeg as a subprocess.
// Every ffmpeg process runs in its own process group, and the whole group is killed on cancellation.
type FFmpegDemuxer struct {
	log           logs.Log
	url           string
	transport     string        // RTSP transport, eg "tcp". Ignored for non-RTSP sources.
	socketTimeout time.Duration // ffmpeg's own I/O timeout
}

func NewFFmpegDemuxer(log logs.Log, url, transport string, socketTimeout time.Duration) *FFmpegDemuxer {
	return &FFmpegDemuxer{
		log:           log,
		url:           url,
		transport:     transport,
		socketTimeout: socketTimeout,
	}
}

func (f *FFmpegDemuxer) inputArgs() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{}
	if strings.HasPrefix(f.url, "rtsp://") || strings.HasPrefix(f.url, "rtsps://") {
		if f.transport != "" {
			args["rtsp_transport"] = f.transport
		}
		if f.socketTimeout > 0 {
			// microseconds
			args["timeout"] = f.socketTimeout.Microseconds()
		}
	}
	return args
}

func scaleFilter(width, height int) string {
	return fmt.Sprintf("scale=%v:%v", width, height)
}

// Turn an ffmpeg-go stream into a command that is bound to ctx, and kills its process group on cancel
func (f *FFmpegDemuxer) command(ctx context.Context, stream *ffmpeg.Stream) *exec.Cmd {
	compiled := stream.GlobalArgs("-loglevel", "error", "-nostdin").OverWriteOutput().Compile()
	cmd := exec.CommandContext(ctx, compiled.Path, compiled.Args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	cmd.WaitDelay = 2 * time.Second
	f.log.Debugf("Running %v", strings.Join(cmd.Args, " "))
	return cmd
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// Negative pid addresses the process group
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Packed rgb24 frames on stdout
func (f *FFmpegDemuxer) rawOutput(width, height int) *ffmpeg.Stream {
	return ffmpeg.Input(f.url, f.inputArgs()).Output("pipe:", ffmpeg.KwArgs{
		"an":      "",
		"vf":      scaleFilter(width, height),
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
	})
}

// Numbered JPEG files in dir
func (f *FFmpegDemuxer) imageOutput(dir string, count, width, height int) *ffmpeg.Stream {
	return ffmpeg.Input(f.url, f.inputArgs()).Output(filepath.Join(dir, "frame_%03d.jpg"), ffmpeg.KwArgs{
		"an":       "",
		"vf":       scaleFilter(width, height),
		"frames:v": count,
		"q:v":      2,
	})
}

func (f *FFmpegDemuxer) StreamRaw(ctx context.Context, width, height int) (io.ReadCloser, error) {
	cmd := f.command(ctx, f.rawOutput(width, height))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	rs := &rawStream{
		cmd:    cmd,
		stdout: stdout,
	}
	cmd.Stderr = &rs.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg: %w", err)
	}
	return rs, nil
}

func (f *FFmpegDemuxer) WriteImages(ctx context.Context, dir string, count, width, height int) error {
	return shell.RunCmd(f.command(ctx, f.imageOutput(dir, count, width, height)))
}

// rawStream is the stdout of a running ffmpeg process
type rawStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	closed bool
}

func (r *rawStream) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

// Close stops ffmpeg. If ffmpeg had already exited with an error, that error is returned.
// Being killed, either here or by cancellation of the context, is not an error.
func (r *rawStream) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	killGroup(r.cmd)
	err := r.cmd.Wait()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return nil
		}
	}
	return shell.Verbose(err, r.stderr.Bytes())
}

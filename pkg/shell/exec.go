package shell

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
)

// Number of trailing stderr lines kept in ExitErrorVerbose.
// ffmpeg prints its banner first and the actual failure last.
const maxStderrLines = 6

// We prefer to return stderr over the process exit code
type ExitErrorVerbose struct {
	E exec.ExitError
}

func (e ExitErrorVerbose) Error() string {
	if len(e.E.Stderr) != 0 {
		return tailLines(string(e.E.Stderr), maxStderrLines)
	}
	return e.E.Error()
}

func (e ExitErrorVerbose) Unwrap() error {
	return &e.E
}

// Verbose attaches the captured stderr of a process to err, if err is an *exec.ExitError.
// Other errors are returned unchanged.
func Verbose(err error, stderr []byte) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		v := ExitErrorVerbose{*exitErr}
		if len(v.E.Stderr) == 0 {
			v.E.Stderr = bytes.Clone(stderr)
		}
		return v
	}
	return err
}

// RunCmd runs a prepared command to completion, capturing stderr for the error message
func RunCmd(cmd *exec.Cmd) error {
	stderr := bytes.Buffer{}
	if cmd.Stderr == nil {
		cmd.Stderr = &stderr
	}
	return Verbose(cmd.Run(), stderr.Bytes())
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

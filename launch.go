package sumatra

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

var ErrLaunchFailed = errors.New("launch failed")

// maximum captured stdout/stderr stored on a record
const maxCapturedOutput = 64 * 1024

// LaunchMode runs the tracked command and reports how long it took.
// The command's combined stdout and stderr is written to w.
type LaunchMode interface {
	Name() string
	Run(ctx context.Context, dir string, exe Executable, args []string, w io.Writer) (time.Duration, error)
}

// SerialLaunchMode runs the command in the foreground, one at a time.
type SerialLaunchMode struct{}

func (SerialLaunchMode) Name() string { return "serial" }

func (SerialLaunchMode) Run(ctx context.Context, dir string, exe Executable, args []string, w io.Writer) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, exe.Path, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return elapsed, errors.Wrapf(ErrLaunchFailed, "%s exited with code %d", exe.Name, exitErr.ExitCode())
		}

		return elapsed, errors.Wrapf(ErrLaunchFailed, "%s: %s", exe.Name, err.Error())
	}

	return elapsed, nil
}

// cappedBuffer keeps at most cap bytes and drops the rest, so runaway
// command output cannot blow up the record.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (cb *cappedBuffer) Write(p []byte) (int, error) {
	remaining := cb.max - len(cb.buf)
	if remaining > 0 {
		if len(p) < remaining {
			remaining = len(p)
		}
		cb.buf = append(cb.buf, p[:remaining]...)
	}

	if remaining < len(p) {
		cb.truncated = true
	}

	return len(p), nil
}

func (cb *cappedBuffer) String() string {
	if cb.truncated {
		return string(cb.buf) + "\n... [output truncated]"
	}

	return string(cb.buf)
}

package evaluator

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// statusCodeOffset is added by the runner to its internal failure codes so
// they can be told apart from ordinary test process exits.
const statusCodeOffset = 192

// ProcessResult captures everything executeState needs from one sandbox run.
type ProcessResult struct {
	ExitCode int
	Signal   unix.Signal
	Stdout   []byte
	Stderr   []byte
}

// CommandRunner executes one composed sandbox command line. The evaluator
// never interprets argv; it only classifies the outcome.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (*ProcessResult, error)
}

// execRunner runs commands through os/exec with bounded output capture.
type execRunner struct {
	outputLimit int64
}

func (r *execRunner) Run(ctx context.Context, dir string, argv []string) (*ProcessResult, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drainCapped(&outBuf, stdout, r.outputLimit) })
	g.Go(func() error { return drainCapped(&errBuf, stderr, r.outputLimit) })
	copyErr := g.Wait()

	waitErr := cmd.Wait()
	res := &ProcessResult{
		ExitCode: -1,
		Stdout:   outBuf.Bytes(),
		Stderr:   errBuf.Bytes(),
	}
	if st := cmd.ProcessState; st != nil {
		res.ExitCode = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = ws.Signal()
		}
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return nil, waitErr
		}
	}
	if copyErr != nil && copyErr != errOutputTruncated {
		return nil, copyErr
	}
	return res, nil
}

var errOutputTruncated = io.ErrShortBuffer

// drainCapped copies at most limit bytes, then keeps reading so the child
// never blocks on a full pipe.
func drainCapped(dst *bytes.Buffer, src io.Reader, limit int64) error {
	n, err := io.CopyN(dst, src, limit)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if n == limit {
		if _, err := io.Copy(io.Discard, src); err != nil {
			return err
		}
		return errOutputTruncated
	}
	return nil
}

// defaultStageGrace is the slack added on top of the limiter's own timeout
// before the evaluator itself declares the stage dead.
const defaultStageGrace = 3 * time.Second

func stageDeadline(timeLimitSec int, grace time.Duration) time.Duration {
	return time.Duration(timeLimitSec)*time.Second + grace
}

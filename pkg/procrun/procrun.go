// Package procrun runs external media tools (ffmpeg, VLC) with bounded
// output capture and guaranteed cleanup of the child process tree.
package procrun

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGrace is how long a child gets between the termination
	// signal and the hard kill.
	DefaultGrace = 3 * time.Second

	// DefaultMaxCaptureBytes caps captured stdout and stderr each.
	DefaultMaxCaptureBytes = 4 * 1024 * 1024
)

// Spec describes a single external process invocation.
type Spec struct {
	Path    string
	Args    []string
	Stdin   io.Reader
	Timeout time.Duration
	// Grace is the delay between SIGTERM and SIGKILL after the timeout
	// fires. Zero means DefaultGrace.
	Grace time.Duration
	// MaxCaptureBytes caps each captured output stream. Zero means
	// DefaultMaxCaptureBytes.
	MaxCaptureBytes int64
}

// Result reports the outcome of a process run. Ordinary process
// failure is reported here, not as a Go error.
type Result struct {
	Succeeded bool
	PID       int
	Stdout    []byte
	Stderr    []byte
	ExitCode  *int
	TimedOut  bool
	Reason    string
}

// Runner executes external processes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
	RunStreaming(ctx context.Context, spec Spec, onLine func(line string)) (*Result, error)
}

type runner struct {
	log logrus.FieldLogger
}

var _ Runner = (*runner)(nil)

// NewRunner creates a process runner.
func NewRunner(log logrus.FieldLogger) Runner {
	return &runner{
		log: log.WithField("component", "procrun"),
	}
}

var setupOnce sync.Once

// Run executes the process and captures its output. A non-nil error is
// returned only for setup failures such as a missing binary.
func (r *runner) Run(ctx context.Context, spec Spec) (*Result, error) {
	setupOnce.Do(platformSetup)

	runCtx, cancel := r.runContext(ctx, spec)
	defer cancel()

	cmd := r.command(runCtx, spec)

	var stdout, stderr bytes.Buffer

	limit := spec.MaxCaptureBytes
	if limit <= 0 {
		limit = DefaultMaxCaptureBytes
	}

	cmd.Stdout = &limitWriter{w: &stdout, remaining: limit}
	cmd.Stderr = &limitWriter{w: &stderr, remaining: limit}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}

	r.log.WithFields(logrus.Fields{
		"path": spec.Path,
		"pid":  cmd.Process.Pid,
	}).Debug("Process started")

	err := cmd.Wait()

	res := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	r.finish(runCtx, spec, cmd, err, res)

	return res, nil
}

// RunStreaming executes the process and invokes onLine for every line
// the child writes to stdout or stderr, in arrival order per stream.
func (r *runner) RunStreaming(ctx context.Context, spec Spec, onLine func(line string)) (*Result, error) {
	setupOnce.Do(platformSetup)

	runCtx, cancel := r.runContext(ctx, spec)
	defer cancel()

	cmd := r.command(runCtx, spec)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", spec.Path, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe for %s: %w", spec.Path, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}

	var mu sync.Mutex

	drain := func(rd io.Reader) error {
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			mu.Lock()
			onLine(scanner.Text())
			mu.Unlock()
		}

		// WaitDelay closes the pipes when it fires, which the scanner
		// reports as a benign error.
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}

		return nil
	}

	g := new(errgroup.Group)
	g.Go(func() error { return drain(stdout) })
	g.Go(func() error { return drain(stderr) })

	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr == nil && drainErr != nil {
		waitErr = drainErr
	}

	res := &Result{}
	r.finish(runCtx, spec, cmd, waitErr, res)

	return res, nil
}

func (r *runner) runContext(ctx context.Context, spec Spec) (context.Context, context.CancelFunc) {
	if spec.Timeout > 0 {
		return context.WithTimeout(ctx, spec.Timeout)
	}

	return context.WithCancel(ctx)
}

func (r *runner) command(ctx context.Context, spec Spec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Stdin = spec.Stdin

	grace := spec.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	// Ask politely first; CommandContext kills after WaitDelay.
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = grace

	setProcAttr(cmd)

	return cmd
}

// finish classifies the wait error into a Result.
func (r *runner) finish(ctx context.Context, spec Spec, cmd *exec.Cmd, waitErr error, res *Result) {
	if cmd.Process != nil {
		res.PID = cmd.Process.Pid
	}

	res.TimedOut = ctx.Err() == context.DeadlineExceeded

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		res.ExitCode = &code
	} else if waitErr == nil {
		code := 0
		res.ExitCode = &code
	}

	switch {
	case res.TimedOut:
		res.Reason = fmt.Sprintf("%s timed out after %s", spec.Path, spec.Timeout)
	case waitErr == nil:
		res.Succeeded = true
	default:
		res.Reason = waitErr.Error()
	}

	fields := logrus.Fields{
		"path":      spec.Path,
		"succeeded": res.Succeeded,
		"timed_out": res.TimedOut,
	}
	if res.ExitCode != nil {
		fields["exit_code"] = *res.ExitCode
	}

	r.log.WithFields(fields).Debug("Process finished")
}

// limitWriter discards writes past the byte budget without failing the
// process.
type limitWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	n := len(p)

	if l.remaining <= 0 {
		return n, nil
	}

	if int64(n) > l.remaining {
		if _, err := l.w.Write(p[:l.remaining]); err != nil {
			return 0, err
		}

		l.remaining = 0

		return n, nil
	}

	if _, err := l.w.Write(p); err != nil {
		return 0, err
	}

	l.remaining -= int64(n)

	return n, nil
}

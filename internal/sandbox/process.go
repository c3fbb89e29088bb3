package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// ProcessSandbox runs the test command as a local child process. Isolation
// is limited to the working directory, a trimmed environment and the
// wall-clock limit; use DockerSandbox when stronger containment is needed.
type ProcessSandbox struct {
	Policy Policy
	Logger *slog.Logger
}

// NewProcessSandbox creates a sandbox with the given policy.
func NewProcessSandbox(policy Policy, logger *slog.Logger) *ProcessSandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSandbox{Policy: policy, Logger: logger}
}

func (p *ProcessSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if len(opts.Command) == 0 {
		return nil, &LaunchError{Command: "", Err: errors.New("no command provided")}
	}
	name := opts.Command[0]

	if err := ctx.Err(); err != nil {
		return &ExecResult{Canceled: true, ExitCode: -1}, nil
	}

	timeout := p.Policy.timeout(opts.Timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var feed *lineFeed
	var emit func(Line)
	if opts.OnLine != nil {
		feed = newLineFeed(opts.OnLine)
		emit = feed.send
	}
	stdout := newLineWriter(Stdout, p.Policy.MaxOutputBytes, emit)
	stderr := newLineWriter(Stderr, p.Policy.MaxOutputBytes, emit)

	cmd := exec.CommandContext(runCtx, name, opts.Command[1:]...)
	cmd.Dir = opts.Workdir
	cmd.Env = buildEnv(opts.Workdir, opts.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	// Which deadline fired is decided when the kill happens; the caller's
	// ctx may still be cancelled while Wait drains the pipes.
	var killed, canceled atomic.Bool
	cmd.Cancel = func() error {
		canceled.Store(ctx.Err() != nil)
		killed.Store(true)
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = p.Policy.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultPolicy().WaitDelay
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if feed != nil {
			feed.close(0)
		}
		return nil, &LaunchError{Command: name, Err: err}
	}
	pid := cmd.Process.Pid
	p.Logger.Debug("test process started", "pid", pid, "command", strings.Join(opts.Command, " "), "timeout", timeout)

	waitErr := cmd.Wait()
	duration := time.Since(start)

	// The group may hold grandchildren even after a clean exit of the leader.
	_ = killProcessGroup(cmd)

	stdout.flush()
	stderr.flush()
	if feed != nil {
		if drained, dropped := feed.close(cmd.WaitDelay); !drained || dropped > 0 {
			p.Logger.Warn("live output consumer fell behind",
				"event", "output_feed_dropped",
				"pid", pid,
				"dropped_lines", dropped,
				"drained", drained,
			)
		}
	}
	outText, outTrunc := stdout.result()
	errText, errTrunc := stderr.result()

	res := &ExecResult{
		Stdout:    outText,
		Stderr:    errText,
		Truncated: outTrunc || errTrunc,
		Duration:  duration,
	}

	switch {
	case killed.Load() && canceled.Load():
		res.Canceled = true
		res.ExitCode = -1
	case killed.Load():
		res.TimedOut = true
		res.ExitCode = -1
	default:
		res.Completed = true
		res.ExitCode = exitCodeForError(waitErr)
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		p.Logger.Warn("output pipes held open after exit", "pid", pid)
	}

	p.Logger.Debug("test process finished",
		"pid", pid,
		"exit_code", res.ExitCode,
		"completed", res.Completed,
		"timed_out", res.TimedOut,
		"duration", duration,
	)
	return res, nil
}

// buildEnv keeps only what a test runner needs from the host environment
// and points HOME and TMPDIR into the workspace.
func buildEnv(workdir string, extra []string) []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	if workdir != "" {
		env = append(env, "HOME="+workdir, "TMPDIR="+workdir)
	}
	for _, key := range []string{"LANG", "DOCKER_HOST", "DOTNET_ROOT", "GOROOT", "GOCACHE", "GOPATH", "GOFLAGS"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return append(env, extra...)
}

func exitCodeForError(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return exitCodeFromStatus(status)
		}
		return exitErr.ExitCode()
	}
	return 1
}

func exitCodeFromStatus(status syscall.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return 1
}

func (p *ProcessSandbox) String() string {
	return fmt.Sprintf("process(timeout=%s)", p.Policy.timeout(0))
}

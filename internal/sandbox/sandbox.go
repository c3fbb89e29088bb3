package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stream names reported in Line.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Line is one line of process output, delivered as soon as it is complete.
type Line struct {
	Stream string
	Text   string
}

// ExecOpts describes a test-suite execution request.
type ExecOpts struct {
	Command []string // executable and arguments
	Workdir string   // working directory, normally the workspace
	Env     []string // extra KEY=VALUE pairs
	Timeout time.Duration

	// OnLine, when set, receives every output line as it arrives. It is
	// called from the stdout and stderr copy goroutines concurrently.
	OnLine func(Line)
}

// ExecResult is the raw outcome of one execution.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Completed bool // exited on its own before the deadline
	TimedOut  bool
	Canceled  bool // caller cancelled before the process exited
	Truncated bool // output exceeded the capture limit
	Duration  time.Duration
}

// Output joins stdout and stderr for display.
func (r *ExecResult) Output() string {
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(r.Stderr)
	}
	return b.String()
}

// Sandbox runs a command in an isolated environment.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}

// ErrLaunch is matched by errors for processes that never started.
var ErrLaunch = errors.New("process launch failed")

// LaunchError reports a command that could not be started at all.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

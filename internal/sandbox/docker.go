package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DockerSandbox runs the test command inside a throwaway Docker container
// with the workspace bind-mounted. Output streaming, the wall-clock limit
// and kill-on-expiry are inherited from the process sandbox driving the
// docker CLI; the container is removed by name afterwards.
type DockerSandbox struct {
	Policy Policy
	Image  string
	Binary string // docker CLI, "docker" when empty

	proc   *ProcessSandbox
	logger *slog.Logger
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy, image string, logger *slog.Logger) *DockerSandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerSandbox{
		Policy: policy,
		Image:  image,
		Binary: "docker",
		proc:   NewProcessSandbox(policy, logger),
		logger: logger,
	}
}

func (d *DockerSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if !d.Policy.IsImageAllowed(d.Image) {
		return nil, &LaunchError{Command: d.binary(), Err: fmt.Errorf("image %q not in allowlist", d.Image)}
	}
	if len(opts.Command) == 0 {
		return nil, &LaunchError{Command: d.binary(), Err: fmt.Errorf("no command provided")}
	}

	name := "labforge-" + uuid.New().String()
	args := d.runArgs(name, opts)

	res, err := d.proc.Exec(ctx, ExecOpts{
		Command: append([]string{d.binary()}, args...),
		Workdir: opts.Workdir,
		Timeout: opts.Timeout,
		OnLine:  opts.OnLine,
	})

	// Killing the docker CLI does not stop the container.
	if res != nil && !res.Completed {
		d.removeContainer(name)
	}
	return res, err
}

func (d *DockerSandbox) runArgs(name string, opts ExecOpts) []string {
	timeout := d.Policy.timeout(opts.Timeout)

	args := []string{
		"run", "--rm",
		"--name", name,
		"--memory", d.Policy.MaxMemory,
		"--pids-limit", "256",
		"--stop-timeout", fmt.Sprintf("%d", int(timeout.Seconds())),
		"-v", opts.Workdir + ":/workspace",
		"-w", "/workspace",
		"-e", "HOME=/workspace",
	}

	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}

	args = append(args, d.Image)
	return append(args, opts.Command...)
}

func (d *DockerSandbox) removeContainer(name string) {
	res, err := d.proc.Exec(context.Background(), ExecOpts{
		Command: []string{d.binary(), "rm", "-f", name},
		Timeout: d.Policy.WaitDelay * 5,
	})
	if err != nil || res == nil || res.ExitCode != 0 {
		detail := ""
		if res != nil {
			detail = strings.TrimSpace(res.Stderr)
		}
		d.logger.Warn("container cleanup failed",
			"event", "container_cleanup_failed",
			"container", name,
			"error", err,
			"detail", detail,
		)
	}
}

func (d *DockerSandbox) binary() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

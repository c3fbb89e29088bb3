package sandbox

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/labforge/internal/logging"
)

func TestLineWriterSplitsAcrossWrites(t *testing.T) {
	var got []string
	w := newLineWriter(Stdout, 0, func(l Line) { got = append(got, l.Text) })

	for _, chunk := range []string{"Test1: Pa", "ssed\r\nTest2", ": Failed\n", "tail"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	w.flush()

	want := []string{"Test1: Passed", "Test2: Failed", "tail"}
	if !slices.Equal(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
	text, truncated := w.result()
	if text != "Test1: Passed\nTest2: Failed\ntail" {
		t.Errorf("captured = %q", text)
	}
	if truncated {
		t.Error("unexpected truncation")
	}
}

func TestLineWriterBoundsUnterminatedLine(t *testing.T) {
	w := newLineWriter(Stdout, 8, nil)
	w.Write([]byte(strings.Repeat("x", 100)))
	w.flush()

	text, truncated := w.result()
	if !truncated {
		t.Error("expected truncation")
	}
	if len(text) > 8 {
		t.Errorf("captured %d bytes, limit 8", len(text))
	}
}

func TestLineFeedDeliversInOrder(t *testing.T) {
	var got []string
	f := newLineFeed(func(l Line) { got = append(got, l.Text) })
	for _, text := range []string{"a", "b", "c"} {
		f.send(Line{Stream: Stdout, Text: text})
	}
	drained, dropped := f.close(time.Second)
	if !drained || dropped != 0 {
		t.Fatalf("drained=%v dropped=%d", drained, dropped)
	}
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("lines = %q", got)
	}

	f.send(Line{Text: "late"})
	if _, dropped := f.close(time.Second); dropped != 1 {
		t.Errorf("line sent after close should be dropped, dropped=%d", dropped)
	}
}

func TestLineFeedNeverBlocksSender(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newLineFeed(func(Line) { <-release })

	start := time.Now()
	for i := 0; i < lineFeedBuffer*3; i++ {
		f.send(Line{Stream: Stdout, Text: "x"})
	}
	drained, dropped := f.close(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("send/close took %s", elapsed)
	}
	if drained {
		t.Error("stuck consumer should not report drained")
	}
	if dropped < lineFeedBuffer*2 {
		t.Errorf("dropped = %d, want at least %d", dropped, lineFeedBuffer*2)
	}
}

func TestPolicyTimeoutClamp(t *testing.T) {
	p := Policy{MaxTimeout: 30 * time.Second}
	cases := []struct {
		requested time.Duration
		want      time.Duration
	}{
		{0, 30 * time.Second},
		{5 * time.Second, 5 * time.Second},
		{time.Minute, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := p.timeout(tc.requested); got != tc.want {
			t.Errorf("timeout(%s) = %s, want %s", tc.requested, got, tc.want)
		}
	}
	if got := (Policy{}).timeout(0); got != DefaultPolicy().MaxTimeout {
		t.Errorf("zero policy timeout = %s", got)
	}
}

func TestExecResultOutput(t *testing.T) {
	r := &ExecResult{Stdout: "a", Stderr: "b\n"}
	if got := r.Output(); got != "a\nb\n" {
		t.Errorf("Output() = %q", got)
	}
	r = &ExecResult{Stderr: "only"}
	if got := r.Output(); got != "only" {
		t.Errorf("Output() = %q", got)
	}
}

func TestDockerSandboxRejectsImage(t *testing.T) {
	d := NewDockerSandbox(DefaultPolicy(), "evil/image:latest", logging.Discard())
	_, err := d.Exec(context.Background(), ExecOpts{Command: []string{"dotnet", "test"}, Workdir: t.TempDir()})
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("err = %v, want ErrLaunch", err)
	}
}

func TestDockerSandboxRunArgs(t *testing.T) {
	policy := DefaultPolicy()
	d := NewDockerSandbox(policy, policy.Images[0], logging.Discard())

	args := d.runArgs("labforge-x", ExecOpts{
		Command: []string{"dotnet", "test", "--no-build"},
		Workdir: "/tmp/ws/abc",
		Env:     []string{"CI=1"},
		Timeout: 10 * time.Second,
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"run --rm --name labforge-x",
		"--memory 512m",
		"--stop-timeout 10",
		"-v /tmp/ws/abc:/workspace",
		"-w /workspace",
		"--network=none",
		"-e CI=1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if !strings.HasSuffix(joined, policy.Images[0]+" dotnet test --no-build") {
		t.Errorf("image and command not last: %s", joined)
	}

	policy.Network = true
	d = NewDockerSandbox(policy, policy.Images[0], logging.Discard())
	if slices.Contains(d.runArgs("n", ExecOpts{Command: []string{"x"}}), "--network=none") {
		t.Error("network disabled despite policy")
	}
}

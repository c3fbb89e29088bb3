// Package lab runs a learner's code against a lab's test suite and scores
// the outcome.
//
// A run allocates a private workspace, lays out the starter bundle, the
// submitted code and the test bundle in that order, executes the test
// command, scores its output and records the attempt. RunLab never returns
// an error: every failure becomes a Result with a fixed message and the
// details go to the log.
package lab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/michaelbrown/labforge/internal/archive"
	"github.com/michaelbrown/labforge/internal/sandbox"
	"github.com/michaelbrown/labforge/internal/scoring"
	"github.com/michaelbrown/labforge/internal/storage"
	"github.com/michaelbrown/labforge/internal/workspace"
)

// DefaultCodeFile is where submitted code is written inside the workspace.
const DefaultCodeFile = "UserCode.cs"

// DefaultTimeout bounds one test-suite execution.
const DefaultTimeout = 30 * time.Second

// persistTimeout bounds recording an attempt after the caller may have gone.
const persistTimeout = 10 * time.Second

// LabSource resolves labs by ID.
type LabSource interface {
	GetLab(ctx context.Context, id int64) (*storage.Lab, error)
}

// SubmissionSink records graded attempts.
type SubmissionSink interface {
	SaveSubmission(ctx context.Context, s *storage.Submission) error
}

// SubmissionPublisher notifies downstream consumers of a recorded attempt.
type SubmissionPublisher interface {
	PublishSubmission(ctx context.Context, s storage.Submission) error
}

// Config wires a Runner.
type Config struct {
	Labs        LabSource
	Submissions SubmissionSink      // optional
	Publisher   SubmissionPublisher // optional
	Sandbox     sandbox.Sandbox
	Workspaces  *workspace.Manager
	Parser      scoring.Parser // defaults to scoring.DefaultMarkers

	Command     []string
	CodeFile    string
	Env         []string
	Timeout     time.Duration
	MaxParallel int // zero means unbounded

	Logger *slog.Logger
}

// Runner executes lab attempts. It is safe for concurrent use.
type Runner struct {
	labs       LabSource
	subs       SubmissionSink
	publisher  SubmissionPublisher
	sandbox    sandbox.Sandbox
	workspaces *workspace.Manager
	parser     scoring.Parser

	command  []string
	codeFile string
	env      []string
	timeout  time.Duration
	slots    chan struct{}

	logger *slog.Logger
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Labs == nil {
		return nil, errors.New("lab source is required")
	}
	if cfg.Sandbox == nil {
		return nil, errors.New("sandbox is required")
	}
	if cfg.Workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("test command is required")
	}

	codeFile := cfg.CodeFile
	if codeFile == "" {
		codeFile = DefaultCodeFile
	}
	if !filepath.IsLocal(codeFile) {
		return nil, fmt.Errorf("code file %q must be a relative path inside the workspace", codeFile)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parser := cfg.Parser
	if parser == nil {
		parser = scoring.DefaultMarkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		labs:       cfg.Labs,
		subs:       cfg.Submissions,
		publisher:  cfg.Publisher,
		sandbox:    cfg.Sandbox,
		workspaces: cfg.Workspaces,
		parser:     parser,
		command:    cfg.Command,
		codeFile:   codeFile,
		env:        cfg.Env,
		timeout:    timeout,
		logger:     logger,
	}
	if cfg.MaxParallel > 0 {
		r.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return r, nil
}

// RunLab executes code against the lab's tests on behalf of submitterID.
func (r *Runner) RunLab(ctx context.Context, labID int64, code, submitterID string) Result {
	return r.RunLabStreaming(ctx, labID, code, submitterID, nil)
}

// RunLabStreaming is RunLab with every output line also delivered to onLine
// while the tests run. onLine may be called from two goroutines at once.
func (r *Runner) RunLabStreaming(ctx context.Context, labID int64, code, submitterID string, onLine func(sandbox.Line)) (res Result) {
	start := time.Now()
	log := r.logger.With("lab_id", labID, "submitter_id", submitterID)

	defer func() {
		if p := recover(); p != nil {
			log.Error("lab run panicked", "event", "lab_run_panic", "panic", p, "stack", string(debug.Stack()))
			res = failure(MsgInternalError)
			res.ExecutionTime = time.Since(start)
		}
	}()

	lab, err := r.labs.GetLab(ctx, labID)
	if err != nil {
		res = failure(MsgInternalError)
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("lab not found")
			res = failure(MsgLabNotFound)
		} else {
			log.Error("resolving lab", "error", err)
		}
		res.ExecutionTime = time.Since(start)
		return res
	}

	res = r.execute(ctx, lab, code, onLine, log)
	res.ExecutionTime = time.Since(start)
	r.record(ctx, lab, code, submitterID, &res, log)

	log.Info("lab run finished",
		"success", res.Success,
		"score", res.Score,
		"timed_out", res.TimedOut,
		"duration_ms", res.ExecutionTime.Milliseconds(),
		"submission_id", res.SubmissionID,
	)
	return res
}

// execute runs one attempt in a fresh workspace.
func (r *Runner) execute(ctx context.Context, lab *storage.Lab, code string, onLine func(sandbox.Line), log *slog.Logger) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("lab run panicked", "event", "lab_run_panic", "panic", p, "stack", string(debug.Stack()))
			res = failure(MsgInternalError)
		}
	}()

	release, err := r.acquire(ctx)
	if err != nil {
		return failure(MsgCancelled)
	}
	defer release()

	ws, err := r.workspaces.Create(ctx)
	if err != nil {
		return r.fail(ctx, log, "allocating workspace", err)
	}
	defer r.workspaces.Destroy(ws)
	log = log.With("workspace_id", ws.ID)

	if err := archive.Extract(ctx, lab.StarterBundle, ws.Path, false); err != nil {
		return r.fail(ctx, log, "extracting starter bundle", err)
	}
	if err := writeCode(ws.Join(r.codeFile), code); err != nil {
		return r.fail(ctx, log, "writing submitted code", err)
	}
	if err := archive.Extract(ctx, lab.TestBundle, ws.Path, true); err != nil {
		return r.fail(ctx, log, "extracting test bundle", err)
	}

	out, err := r.sandbox.Exec(ctx, sandbox.ExecOpts{
		Command: r.command,
		Workdir: ws.Path,
		Env:     r.env,
		Timeout: r.timeout,
		OnLine:  onLine,
	})
	if err != nil {
		return r.fail(ctx, log, "running tests", err)
	}
	if out.Truncated {
		log.Warn("test output truncated", "event", "output_truncated")
	}

	passed, score := scoring.Score(out, lab.MaxScore, r.parser)
	res = Result{
		Success:     passed,
		Score:       score,
		Output:      out.Output(),
		TestResults: out.Stdout,
		TimedOut:    out.TimedOut,
	}
	switch {
	case out.TimedOut:
		log.Warn("test execution timed out", "timeout", r.timeout)
		res.ErrorMessage = MsgTimedOut
	case out.Canceled:
		res.ErrorMessage = MsgCancelled
	case out.ExitCode != 0:
		res.ErrorMessage = strings.TrimSpace(out.Stderr)
		if res.ErrorMessage == "" {
			res.ErrorMessage = fmt.Sprintf("Tests exited with status %d", out.ExitCode)
		}
	}
	return res
}

// fail logs err and maps it to the caller-facing message.
func (r *Runner) fail(ctx context.Context, log *slog.Logger, doing string, err error) Result {
	if ctx.Err() != nil {
		log.Info(doing+" interrupted", "error", err)
		return failure(MsgCancelled)
	}
	log.Error(doing, "error", err)
	switch {
	case errors.Is(err, archive.ErrExtraction):
		res := failure(MsgBundleFailed)
		res.Output = bundleDetail(doing, err)
		return res
	case errors.Is(err, sandbox.ErrLaunch):
		return failure(MsgLaunchFailed)
	default:
		return failure(MsgInternalError)
	}
}

// bundleDetail describes an extraction failure without host paths: the
// bundle's file name, the offending entry and the kind of problem.
func bundleDetail(doing string, err error) string {
	var ee *archive.ExtractionError
	if !errors.As(err, &ee) {
		return ""
	}
	detail := doing + " " + filepath.Base(ee.Bundle)
	if ee.Entry != "" {
		detail += fmt.Sprintf(" (entry %q)", ee.Entry)
	}
	switch {
	case errors.Is(err, archive.ErrUnsafePath):
		return detail + ": entry path escapes the workspace"
	case errors.Is(err, archive.ErrExists):
		return detail + ": entry already exists"
	default:
		return detail + ": bundle could not be read"
	}
}

// acquire takes a concurrency slot, waiting until one frees up or ctx ends.
func (r *Runner) acquire(ctx context.Context) (func(), error) {
	if r.slots == nil {
		return func() {}, ctx.Err()
	}
	select {
	case r.slots <- struct{}{}:
		return func() { <-r.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// record persists the attempt and publishes it. Failures are logged and
// leave res untouched apart from SubmissionID.
func (r *Runner) record(ctx context.Context, lab *storage.Lab, code, submitterID string, res *Result, log *slog.Logger) {
	if r.subs == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("recording submission panicked", "event", "submission_persist_failed", "panic", p)
		}
	}()

	// The attempt is recorded even if the caller went away mid-run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	sub := storage.Submission{
		LabID:        lab.ID,
		SubmitterID:  submitterID,
		Code:         code,
		Score:        res.Score,
		Passed:       res.Success,
		TestResults:  res.TestResults,
		ErrorMessage: res.ErrorMessage,
		TimedOut:     res.TimedOut,
		DurationMs:   res.ExecutionTime.Milliseconds(),
		SubmittedAt:  time.Now().UTC(),
	}
	if err := r.subs.SaveSubmission(ctx, &sub); err != nil {
		log.Error("saving submission", "event", "submission_persist_failed", "error", err)
		return
	}
	res.SubmissionID = sub.ID

	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishSubmission(ctx, sub); err != nil {
		log.Warn("publishing submission", "event", "submission_publish_failed", "submission_id", sub.ID, "error", err)
	}
}

func writeCode(path, code string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating code directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

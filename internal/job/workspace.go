package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #region types

// Input is one file staged into the scratch directory before the program runs.
// Exactly one of Source or Content is used; Content wins when both are set.
type Input struct {
	Name    string // name the program expects, relative to the scratch dir
	Source  string // existing file to copy
	Content []byte // generated file body (scripts, keyword files)
}

// Spec describes one external program invocation.
type Spec struct {
	Program string
	Args    []string
	Stdin   []string
	Env     []string
	Inputs  []Input
	Outputs []string // files that must exist after a zero exit
}

// TimingSink receives one record per completed invocation.
type TimingSink interface {
	AddJob(name string, seconds float64)
}

// Options configure a Workspace.
type Options struct {
	KeepFiles bool
	KeepLogs  bool
	Timeout   time.Duration
	Threads   int
	Executor  Executor
	Timings   TimingSink
	Logger    *zap.Logger
}

// Workspace owns the run directory in which every job gets its own scratch
// directory, and the files directory where collected outputs are kept.
type Workspace struct {
	root     string
	filesDir string
	logsDir  string
	opts     Options
	counter  atomic.Int64
	logger   *zap.Logger
}

// #endregion types

// #region workspace

// NewWorkspace prepares root for job execution. root must already exist.
func NewWorkspace(root string, opts Options) (*Workspace, error) {
	if opts.Executor == nil {
		opts.Executor = LocalExecutor{}
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &Workspace{
		root:     root,
		filesDir: filepath.Join(root, "files"),
		logsDir:  filepath.Join(root, "logs"),
		opts:     opts,
		logger:   logger.Named("job"),
	}
	if err := os.MkdirAll(ws.filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	if opts.KeepLogs {
		if err := os.MkdirAll(ws.logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
	}
	return ws, nil
}

// Threads returns the thread count passed to programs that accept one.
func (ws *Workspace) Threads() int { return ws.opts.Threads }

// Close removes kept intermediate files unless KeepFiles is set.
func (ws *Workspace) Close() error {
	if ws.opts.KeepFiles {
		return nil
	}
	return os.RemoveAll(ws.filesDir)
}

func (ws *Workspace) newScratch(name string) (string, int64, error) {
	n := ws.counter.Add(1)
	dir := filepath.Join(ws.root, fmt.Sprintf("job_%04d_%s_%s", n, name, uuid.NewString()[:8]))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", n, fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, n, nil
}

// #endregion workspace

// #region invoke

// Invoke stages inputs, runs the program under the workspace timeout and
// checks the declared outputs. On error the scratch directory is already
// cleaned up; on success the caller owns the returned Run.
func (ws *Workspace) Invoke(ctx context.Context, name string, spec Spec) (*Run, error) {
	dir, n, err := ws.newScratch(name)
	if err != nil {
		return nil, err
	}
	run := &Run{
		Name:   name,
		Dir:    dir,
		Stdout: filepath.Join(dir, "stdout.txt"),
		Stderr: filepath.Join(dir, "stderr.txt"),
		seq:    n,
		ws:     ws,
	}

	if err := stageInputs(dir, spec.Inputs); err != nil {
		run.Cleanup()
		return nil, fmt.Errorf("%s: stage inputs: %w", name, err)
	}

	runCtx := ctx
	cancel := func() {}
	if ws.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ws.opts.Timeout)
	}
	defer cancel()

	ws.logger.Debug("starting", zap.String("step", name), zap.String("program", spec.Program), zap.String("dir", dir))
	start := time.Now()
	code, err := ws.opts.Executor.Execute(runCtx, Request{
		Dir:        dir,
		Program:    spec.Program,
		Args:       spec.Args,
		Stdin:      spec.Stdin,
		Env:        spec.Env,
		StdoutPath: run.Stdout,
		StderrPath: run.Stderr,
	})
	run.Seconds = time.Since(start).Seconds()
	run.ExitCode = code

	if err != nil {
		run.Cleanup()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrStepTimeout, name, ws.opts.Timeout)
		}
		return nil, err
	}

	if ws.opts.Timings != nil {
		ws.opts.Timings.AddJob(name, run.Seconds)
	}
	ws.keepLog(run)
	ws.logger.Debug("finished", zap.String("step", name), zap.Int("exit", code), zap.Float64("seconds", run.Seconds))

	if code != 0 {
		tail := tailFile(run.Stderr, 5)
		run.Cleanup()
		return nil, &ExitError{Step: name, Code: code, Stderr: tail}
	}
	for _, out := range spec.Outputs {
		if _, err := os.Stat(filepath.Join(dir, out)); err != nil {
			run.Cleanup()
			return nil, &MissingOutputError{Step: name, File: out}
		}
	}
	return run, nil
}

func (ws *Workspace) keepLog(run *Run) {
	if !ws.opts.KeepLogs {
		return
	}
	dst := filepath.Join(ws.logsDir, fmt.Sprintf("%s_%d.log", run.Name, run.seq))
	if err := copyFile(run.Stdout, dst); err != nil {
		ws.logger.Warn("keep log failed", zap.String("step", run.Name), zap.Error(err))
	}
}

// #endregion invoke

// #region run

// Run is a completed invocation whose scratch directory still exists.
type Run struct {
	Name     string
	Dir      string
	Stdout   string
	Stderr   string
	ExitCode int
	Seconds  float64

	seq int64
	ws  *Workspace
}

// Path returns the absolute path of a file in the scratch directory.
func (r *Run) Path(name string) string { return filepath.Join(r.Dir, name) }

// ReadStdout returns the captured standard output.
func (r *Run) ReadStdout() (string, error) {
	b, err := os.ReadFile(r.Stdout)
	if err != nil {
		return "", fmt.Errorf("read stdout: %w", err)
	}
	return string(b), nil
}

// Keep moves an output out of the scratch directory into the workspace's
// files directory so it outlives Cleanup, and returns its new path.
func (r *Run) Keep(name string) (string, error) {
	dst := filepath.Join(r.ws.filesDir, fmt.Sprintf("%04d_%s_%s", r.seq, r.Name, filepath.Base(name)))
	if err := os.Rename(r.Path(name), dst); err != nil {
		return "", fmt.Errorf("keep %s: %w", name, err)
	}
	return dst, nil
}

// Cleanup deletes the scratch directory unless KeepFiles is set.
func (r *Run) Cleanup() {
	if r.ws.opts.KeepFiles {
		return
	}
	if err := os.RemoveAll(r.Dir); err != nil {
		r.ws.logger.Warn("cleanup failed", zap.String("dir", r.Dir), zap.Error(err))
	}
}

// #endregion run

// #region helpers

func stageInputs(dir string, inputs []Input) error {
	for _, in := range inputs {
		dst := filepath.Join(dir, in.Name)
		if in.Content != nil {
			if err := os.WriteFile(dst, in.Content, 0o644); err != nil {
				return err
			}
			continue
		}
		if in.Source == "" {
			return fmt.Errorf("input %s has no source", in.Name)
		}
		if err := copyFile(in.Source, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tailFile(path string, n int) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(bytes.TrimSpace(b)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// #endregion helpers

package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// #region request

// Request is everything an Executor needs to run one program.
type Request struct {
	Dir        string
	Program    string
	Args       []string
	Stdin      []string
	Env        []string
	StdoutPath string
	StderrPath string
}

// Executor runs a program to completion and returns its exit code. A non-nil
// error means the program could not be run at all (not found, cancelled).
type Executor interface {
	Execute(ctx context.Context, req Request) (int, error)
}

// #endregion request

// #region local-executor

// LocalExecutor runs programs on this host with os/exec.
type LocalExecutor struct{}

// Execute resolves req.Program on PATH and runs it with stdout and stderr
// written straight to the request's files.
func (LocalExecutor) Execute(ctx context.Context, req Request) (int, error) {
	path, err := exec.LookPath(req.Program)
	if err != nil {
		return -1, &ExecutableNotFoundError{Program: req.Program, Err: err}
	}

	stdout, err := os.Create(req.StdoutPath)
	if err != nil {
		return -1, fmt.Errorf("create stdout: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(req.StderrPath)
	if err != nil {
		return -1, fmt.Errorf("create stderr: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, path, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	if len(req.Stdin) > 0 {
		cmd.Stdin = strings.NewReader(strings.Join(req.Stdin, "\n") + "\n")
	}

	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("run %s: %w", req.Program, err)
	}
	return 0, nil
}

// #endregion local-executor

package job

import (
	"context"
	"fmt"
)

// Step is one external-program wrapper. Prepare builds the invocation from
// the step's inputs; Collect parses the finished run into a typed result.
type Step[R any] interface {
	Name() string
	Prepare(ctx context.Context, ws *Workspace) (Spec, error)
	Collect(run *Run) (R, error)
}

// Execute runs prepare, invoke and collect for step in ws.
func Execute[R any](ctx context.Context, ws *Workspace, step Step[R]) (R, error) {
	var zero R
	spec, err := step.Prepare(ctx, ws)
	if err != nil {
		return zero, fmt.Errorf("prepare %s: %w", step.Name(), err)
	}
	run, err := ws.Invoke(ctx, step.Name(), spec)
	if err != nil {
		return zero, err
	}
	defer run.Cleanup()

	res, err := step.Collect(run)
	if err != nil {
		return zero, fmt.Errorf("collect %s: %w", step.Name(), err)
	}
	return res, nil
}

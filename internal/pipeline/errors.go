package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// ErrNoResiduesBuilt is returned when a building step builds nothing.
var ErrNoResiduesBuilt = errors.New("no residues built")

// ErrNoStartingPoint is returned for X-ray data with neither a starting
// model nor experimental phases.
var ErrNoStartingPoint = errors.New("a starting model or experimental phases are required")

// Reason maps the error that ended a run to its termination reason.
func Reason(err error) string {
	var notFound *job.ExecutableNotFoundError
	switch {
	case err == nil:
		return ReasonNormal
	case errors.Is(err, ErrNoResiduesBuilt):
		return ReasonNoResiduesBuilt
	case errors.Is(err, xtal.ErrCellIncompatible):
		return ReasonCellIncompatible
	case errors.Is(err, steps.ErrZeroResidueRefinement):
		return ReasonZeroResidueRefinement
	case errors.Is(err, environ.ErrEnvironment):
		return prefixNoEnvironment + detail(err, environ.ErrEnvironment)
	case errors.As(err, &notFound):
		return prefixNotFound + notFound.Program
	case errors.Is(err, job.ErrStepTimeout):
		return prefixStepTimedOut + detail(err, job.ErrStepTimeout)
	case errors.Is(err, context.Canceled):
		return ReasonInterrupted
	default:
		return prefixStepFailed + err.Error()
	}
}

// detail drops a leading "<sentinel>: " from err's message.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

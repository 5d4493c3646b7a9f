// Package pipeline is the cycle controller. It seeds the current state from
// the input data, runs the steps a CycleStrategy plans for every cycle,
// gates each refinement, tracks the best result and decides when to stop.
package pipeline

import (
	"context"

	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region phase

// Phase is the controller's lifecycle position.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseFinalizing   Phase = "finalizing"
	PhaseTerminated   Phase = "terminated"
)

// #endregion phase

// #region termination

// Termination reasons written to the report. Reasons for step failures,
// timeouts, missing executables and environment problems carry a detail
// suffix after the prefixes below.
const (
	ReasonNormal                = "Normal"
	ReasonNoResiduesBuilt       = "No residues built"
	ReasonCellIncompatible      = "Model cell is incompatible"
	ReasonZeroResidueRefinement = "Refinement given zero residues"
	ReasonInterrupted           = "Interrupted"

	prefixStepFailed    = "Step failed: "
	prefixStepTimedOut  = "Step timed out: "
	prefixNotFound      = "Executable not found: "
	prefixNoEnvironment = "Environment not configured: "
)

// Termination is how a run ended.
type Termination struct {
	Reason string
	Err    error // nil for a normal stop
}

// Normal reports whether the run ended successfully.
func (t Termination) Normal() bool { return t.Reason == ReasonNormal }

// #endregion termination

// #region runner

// Runner executes the external steps. *steps.Runner is the production
// implementation.
type Runner interface {
	Header(ctx context.Context, path string) (steps.HeaderResult, error)
	Convert(ctx context.Context, obs, free xtal.DataItem) (steps.ConversionResult, error)
	MapToStructureFactors(ctx context.Context) (steps.ConversionResult, error)
	FitCell(ctx context.Context, model xtal.Structure, cell xtal.Cell, spaceGroup string) (steps.StructureResult, error)
	Sheetbend(ctx context.Context, in steps.RefineInput) (steps.StructureResult, error)
	Refine(ctx context.Context, in steps.RefineInput) (steps.RefinementResult, error)
	DensityModify(ctx context.Context, in steps.PhasedInput) (steps.DensityModificationResult, error)
	Build(ctx context.Context, kind steps.BuildKind, in steps.PhasedInput) (steps.BuildResult, error)
	Prune(ctx context.Context, in steps.ModelInput, chains bool) (steps.StructureResult, error)
	FixSideChains(ctx context.Context, in steps.ModelInput) (steps.StructureResult, error)
	AddSolvent(ctx context.Context, in steps.ModelInput, dummies bool) (steps.StructureResult, error)
	RemoveSolvent(ctx context.Context, model xtal.Structure) (steps.StructureResult, error)
}

var _ Runner = (*steps.Runner)(nil)

// #endregion runner

// #region dataset

// dataset is the reflection data fixed at initialization.
type dataset struct {
	Observations xtal.DataItem
	FreeR        xtal.DataItem
	Phases       xtal.DataItem // experimental phases, zero if none
	Cell         xtal.Cell
	SpaceGroup   string
	Resolution   float64
}

// #endregion dataset

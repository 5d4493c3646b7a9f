package steps

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region types

// RunnerConfig is the part of the run configuration the step wrappers read.
type RunnerConfig struct {
	EM         bool
	Twinned    bool
	Contents   xtal.Contents
	Maps       []string
	Mask       string
	Resolution float64
	Blur       float64
}

// Runner executes step wrappers in a workspace. It merges reflection items
// into one file before calling programs that read a single file.
type Runner struct {
	ws  *job.Workspace
	cfg RunnerConfig
}

// NewRunner returns a Runner executing in ws.
func NewRunner(ws *job.Workspace, cfg RunnerConfig) *Runner {
	return &Runner{ws: ws, cfg: cfg}
}

// #endregion types

// #region data

// Header reads a reflection file header.
func (r *Runner) Header(ctx context.Context, path string) (HeaderResult, error) {
	return job.Execute[HeaderResult](ctx, r.ws, Mtzdump{Path: path})
}

// Convert turns intensities into mean amplitudes.
func (r *Runner) Convert(ctx context.Context, obs, free xtal.DataItem) (ConversionResult, error) {
	return job.Execute[ConversionResult](ctx, r.ws, Ctruncate{Observations: obs, FreeR: free})
}

// MapToStructureFactors converts the first map into structure factors.
func (r *Runner) MapToStructureFactors(ctx context.Context) (ConversionResult, error) {
	if len(r.cfg.Maps) == 0 {
		return ConversionResult{}, fmt.Errorf("no maps configured")
	}
	return job.Execute[ConversionResult](ctx, r.ws, Map2sf{Map: r.cfg.Maps[0], Resolution: r.cfg.Resolution})
}

// Merge puts items into one reflection file. Items already sharing a file
// are returned unchanged without running anything. Zero items are skipped
// and come back zero.
func (r *Runner) Merge(ctx context.Context, items ...xtal.DataItem) ([]xtal.DataItem, error) {
	var present []xtal.DataItem
	var index []int
	files := map[string]bool{}
	for i, item := range items {
		if item.IsZero() {
			continue
		}
		present = append(present, item)
		index = append(index, i)
		files[item.Path] = true
	}
	if len(files) <= 1 {
		return items, nil
	}
	res, err := job.Execute[MergeResult](ctx, r.ws, Cad{Items: present})
	if err != nil {
		return nil, err
	}
	out := make([]xtal.DataItem, len(items))
	for k, i := range index {
		out[i] = res.Items[k]
	}
	return out, nil
}

// #endregion data

// #region model

// FitCell places a starting model into the data cell.
func (r *Runner) FitCell(ctx context.Context, model xtal.Structure, cell xtal.Cell, spaceGroup string) (StructureResult, error) {
	return job.Execute[StructureResult](ctx, r.ws, Pdbset{Model: model, Cell: cell, SpaceGroup: spaceGroup})
}

// Sheetbend runs shift-field refinement.
func (r *Runner) Sheetbend(ctx context.Context, in RefineInput) (StructureResult, error) {
	items, err := r.Merge(ctx, in.Observations, in.FreeR)
	if err != nil {
		return StructureResult{}, err
	}
	return job.Execute[StructureResult](ctx, r.ws, Sheetbend{Model: in.Model, Observations: items[0], FreeR: items[1]})
}

// Refine runs refmac in X-ray mode and servalcat in EM mode.
func (r *Runner) Refine(ctx context.Context, in RefineInput) (RefinementResult, error) {
	if in.Model.Residues == 0 {
		return RefinementResult{}, ErrZeroResidueRefinement
	}
	if r.cfg.EM {
		return job.Execute[RefinementResult](ctx, r.ws, Servalcat{
			Model:      in.Model,
			Maps:       r.cfg.Maps,
			Mask:       r.cfg.Mask,
			Resolution: r.cfg.Resolution,
			Blur:       r.cfg.Blur,
		})
	}
	items, err := r.Merge(ctx, in.Observations, in.FreeR, in.Phases)
	if err != nil {
		return RefinementResult{}, err
	}
	return job.Execute[RefinementResult](ctx, r.ws, Refmac{
		Model:        in.Model,
		Observations: items[0],
		FreeR:        items[1],
		Phases:       items[2],
		Twinned:      r.cfg.Twinned,
	})
}

// DensityModify runs parrot and reads the reflection count of its output.
func (r *Runner) DensityModify(ctx context.Context, in PhasedInput) (DensityModificationResult, error) {
	merged, err := r.mergePhased(ctx, in)
	if err != nil {
		return DensityModificationResult{}, err
	}
	res, err := job.Execute[DensityModificationResult](ctx, r.ws, Parrot{PhasedInput: merged})
	if err != nil {
		return DensityModificationResult{}, err
	}
	header, err := r.Header(ctx, res.ABCD.Path)
	if err != nil {
		return DensityModificationResult{}, err
	}
	res.NReflections = header.NReflections
	return res, nil
}

// Build runs the building program for kind.
func (r *Runner) Build(ctx context.Context, kind BuildKind, in PhasedInput) (BuildResult, error) {
	merged, err := r.mergePhased(ctx, in)
	if err != nil {
		return BuildResult{}, err
	}
	return job.Execute[BuildResult](ctx, r.ws, Builder{
		PhasedInput: merged,
		Kind:        kind,
		Contents:    r.cfg.Contents,
		EM:          r.cfg.EM,
	})
}

// Prune removes poorly fitting residues, or whole chains when chains is set.
func (r *Runner) Prune(ctx context.Context, in ModelInput, chains bool) (StructureResult, error) {
	task := CootPrune
	if chains {
		task = CootPruneChains
	}
	return job.Execute[StructureResult](ctx, r.ws, Coot{ModelInput: in, Task: task})
}

// FixSideChains completes and refits side chains.
func (r *Runner) FixSideChains(ctx context.Context, in ModelInput) (StructureResult, error) {
	return job.Execute[StructureResult](ctx, r.ws, Coot{ModelInput: in, Task: CootSideChains})
}

// AddSolvent adds waters, or dummy atoms when dummies is set.
func (r *Runner) AddSolvent(ctx context.Context, in ModelInput, dummies bool) (StructureResult, error) {
	return job.Execute[StructureResult](ctx, r.ws, FindWaters{Model: in.Model, FPhiBest: in.FPhiBest, Dummies: dummies})
}

// RemoveSolvent strips waters and dummy atoms.
func (r *Runner) RemoveSolvent(ctx context.Context, model xtal.Structure) (StructureResult, error) {
	return job.Execute[StructureResult](ctx, r.ws, Pdbcur{Model: model})
}

func (r *Runner) mergePhased(ctx context.Context, in PhasedInput) (PhasedInput, error) {
	items, err := r.Merge(ctx, in.Observations, in.FreeR, in.Phases, in.FPhi)
	if err != nil {
		return PhasedInput{}, err
	}
	in.Observations, in.FreeR, in.Phases, in.FPhi = items[0], items[1], items[2], items[3]
	return in, nil
}

// #endregion model

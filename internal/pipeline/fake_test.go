package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
	"github.com/stretchr/testify/require"
)

// fakeRunner executes steps in memory. Every structure it returns is
// backed by a small file so output copying works.
type fakeRunner struct {
	t   *testing.T
	dir string

	header steps.HeaderResult
	// rFree returns the R-free of the i-th refinement, counting from 0.
	rFree func(i int) float64
	// built returns the residues built by the i-th call of kind.
	built func(kind steps.BuildKind, i int) int

	calls   []string
	refines int
	builds  map[steps.BuildKind]int
	files   int
}

func newFakeRunner(t *testing.T) *fakeRunner {
	t.Helper()
	return &fakeRunner{
		t:   t,
		dir: t.TempDir(),
		header: steps.HeaderResult{
			Cell:         xtal.Cell{A: 78.9, B: 78.9, C: 37.1, Alpha: 90, Beta: 90, Gamma: 90},
			SpaceGroup:   "P 43 21 2",
			Resolution:   1.8,
			NReflections: 21214,
			Columns: []steps.Column{
				{Label: "H", Type: "H"}, {Label: "K", Type: "H"}, {Label: "L", Type: "H"},
				{Label: "FreeR_flag", Type: "I"},
				{Label: "FP", Type: "F"}, {Label: "SIGFP", Type: "Q"},
				{Label: "HLA", Type: "A"}, {Label: "HLB", Type: "A"}, {Label: "HLC", Type: "A"}, {Label: "HLD", Type: "A"},
			},
		},
		rFree:  func(int) float64 { return 0.30 },
		built:  func(steps.BuildKind, int) int { return 120 },
		builds: map[steps.BuildKind]int{},
	}
}

func (f *fakeRunner) structure(residues, waters, dummies int) xtal.Structure {
	f.files++
	path := filepath.Join(f.dir, fmt.Sprintf("model_%03d.pdb", f.files))
	body := fmt.Sprintf("REMARK residues=%d waters=%d dummies=%d\nEND\n", residues, waters, dummies)
	require.NoError(f.t, os.WriteFile(path, []byte(body), 0o644))
	return xtal.Structure{Path: path, Residues: residues, Waters: waters, Dummies: dummies}
}

func (f *fakeRunner) mtz(name string) string {
	f.files++
	path := filepath.Join(f.dir, fmt.Sprintf("%s_%03d.mtz", name, f.files))
	require.NoError(f.t, os.WriteFile(path, []byte(name), 0o644))
	return path
}

func (f *fakeRunner) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRunner) Header(_ context.Context, path string) (steps.HeaderResult, error) {
	f.calls = append(f.calls, "header")
	return f.header, nil
}

func (f *fakeRunner) Convert(_ context.Context, obs, free xtal.DataItem) (steps.ConversionResult, error) {
	f.calls = append(f.calls, "ctruncate")
	out := f.mtz("ctruncate")
	return steps.ConversionResult{
		Observations: xtal.DataItem{Path: out, Role: xtal.RoleObservations, Labels: []string{"FMEAN", "SIGFMEAN"}},
		FreeR:        xtal.DataItem{Path: out, Role: xtal.RoleFreeR, Labels: free.Labels},
	}, nil
}

func (f *fakeRunner) MapToStructureFactors(context.Context) (steps.ConversionResult, error) {
	f.calls = append(f.calls, "map2sf")
	out := f.mtz("map2sf")
	return steps.ConversionResult{
		Observations: xtal.DataItem{Path: out, Role: xtal.RoleObservations, Labels: []string{"FWT", "SIGFWT"}},
		FPhi:         xtal.DataItem{Path: out, Role: xtal.RoleFPhi, Labels: []string{"FWT", "PHWT"}},
	}, nil
}

func (f *fakeRunner) FitCell(_ context.Context, model xtal.Structure, cell xtal.Cell, sg string) (steps.StructureResult, error) {
	f.calls = append(f.calls, "pdbset")
	s := f.structure(model.Residues, model.Waters, model.Dummies)
	s.Cell, s.SpaceGroup = cell, sg
	return steps.StructureResult{Structure: s}, nil
}

func (f *fakeRunner) Sheetbend(_ context.Context, in steps.RefineInput) (steps.StructureResult, error) {
	f.calls = append(f.calls, "sheetbend")
	return steps.StructureResult{Structure: f.structure(in.Model.Residues, in.Model.Waters, in.Model.Dummies)}, nil
}

func (f *fakeRunner) Refine(_ context.Context, in steps.RefineInput) (steps.RefinementResult, error) {
	f.calls = append(f.calls, "refine")
	if in.Model.Residues == 0 {
		return steps.RefinementResult{}, steps.ErrZeroResidueRefinement
	}
	i := f.refines
	f.refines++
	out := f.mtz("refmac")
	rfree := f.rFree(i)
	return steps.RefinementResult{
		Structure: f.structure(in.Model.Residues, in.Model.Waters, in.Model.Dummies),
		ABCD:      xtal.DataItem{Path: out, Role: xtal.RolePhases, Labels: []string{"HLACOMB", "HLBCOMB", "HLCCOMB", "HLDCOMB"}},
		FPhiBest:  xtal.DataItem{Path: out, Role: xtal.RoleFPhi, Labels: []string{"FWT", "PHWT"}},
		FPhiDiff:  xtal.DataItem{Path: out, Role: xtal.RoleFPhi, Labels: []string{"DELFWT", "PHDELWT"}},
		FPhiCalc:  xtal.DataItem{Path: out, Role: xtal.RoleFPhi, Labels: []string{"FC_ALL", "PHIC_ALL"}},
		RWork:     rfree - 0.04,
		RFree:     rfree,
		FSC:       1 - rfree,
	}, nil
}

func (f *fakeRunner) DensityModify(_ context.Context, in steps.PhasedInput) (steps.DensityModificationResult, error) {
	f.calls = append(f.calls, "parrot")
	out := f.mtz("parrot")
	return steps.DensityModificationResult{
		ABCD:         xtal.DataItem{Path: out, Role: xtal.RolePhases, Labels: []string{"parrot.ABCD.A", "parrot.ABCD.B", "parrot.ABCD.C", "parrot.ABCD.D"}},
		FPhi:         xtal.DataItem{Path: out, Role: xtal.RoleFPhi, Labels: []string{"parrot.F_phi.F", "parrot.F_phi.phi"}},
		NReflections: f.header.NReflections,
	}, nil
}

func (f *fakeRunner) Build(_ context.Context, kind steps.BuildKind, in steps.PhasedInput) (steps.BuildResult, error) {
	f.calls = append(f.calls, string(kind))
	i := f.builds[kind]
	f.builds[kind]++
	n := f.built(kind, i)
	return steps.BuildResult{Structure: f.structure(n, 0, 0), ResiduesBuilt: n, Fragments: 3}, nil
}

func (f *fakeRunner) Prune(_ context.Context, in steps.ModelInput, chains bool) (steps.StructureResult, error) {
	name := "prune"
	if chains {
		name = "prune-chains"
	}
	f.calls = append(f.calls, name)
	return steps.StructureResult{Structure: f.structure(in.Model.Residues, in.Model.Waters, in.Model.Dummies)}, nil
}

func (f *fakeRunner) FixSideChains(_ context.Context, in steps.ModelInput) (steps.StructureResult, error) {
	f.calls = append(f.calls, "side-chains")
	return steps.StructureResult{Structure: f.structure(in.Model.Residues, in.Model.Waters, in.Model.Dummies)}, nil
}

func (f *fakeRunner) AddSolvent(_ context.Context, in steps.ModelInput, dummies bool) (steps.StructureResult, error) {
	m := in.Model
	if dummies {
		f.calls = append(f.calls, "findwaters-dummies")
		return steps.StructureResult{Structure: f.structure(m.Residues, m.Waters, m.Dummies+15)}, nil
	}
	f.calls = append(f.calls, "findwaters")
	return steps.StructureResult{Structure: f.structure(m.Residues, m.Waters+25, m.Dummies)}, nil
}

func (f *fakeRunner) RemoveSolvent(_ context.Context, model xtal.Structure) (steps.StructureResult, error) {
	f.calls = append(f.calls, "pdbcur")
	return steps.StructureResult{Structure: f.structure(model.Residues, 0, 0)}, nil
}

// #region harness

type harness struct {
	runner *fakeRunner
	store  *state.Store
	report *report.Report
	cfg    config.Config
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := state.NewStore(filepath.Join(dir, OutputStore))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	cfg.Run.Contents = "contents.fasta"
	cfg.Run.Directory = dir
	cfg.XRay.Data = "data.mtz"

	return &harness{
		runner: newFakeRunner(t),
		store:  store,
		report: report.New(filepath.Join(dir, OutputReport), nil),
		cfg:    cfg,
		dir:    dir,
	}
}

func proteinContents() xtal.Contents {
	return xtal.Contents{Proteins: []xtal.Polymer{{Sequence: "MKVLAAGIVGLLLAQ", Stoichiometry: 1}}}
}

func (h *harness) controller(t *testing.T, contents xtal.Contents) *Controller {
	t.Helper()
	c, err := New(Options{
		Config:   h.cfg,
		Contents: contents,
		Runner:   h.runner,
		Store:    h.store,
		Report:   h.report,
	})
	require.NoError(t, err)
	return c
}

func writeModel(t *testing.T, cell xtal.Cell, sg string, residues int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "start.pdb")
	body := fmt.Sprintf("CRYST1%9.3f%9.3f%9.3f%7.2f%7.2f%7.2f %-11s%4d\n",
		cell.A, cell.B, cell.C, cell.Alpha, cell.Beta, cell.Gamma, sg, 8)
	for i := 1; i <= residues; i++ {
		body += fmt.Sprintf("ATOM  %5d  CA  ALA A%4d    %8.3f%8.3f%8.3f  1.00 20.00           C\n", i, i, 0.0, 0.0, 0.0)
	}
	body += "END\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// #endregion harness

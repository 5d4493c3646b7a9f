package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/modelcraft/internal/config"
	"github.com/danielpatrickdp/modelcraft/internal/environ"
	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/job"
	"github.com/danielpatrickdp/modelcraft/internal/report"
	"github.com/danielpatrickdp/modelcraft/internal/state"
	"github.com/danielpatrickdp/modelcraft/internal/steps"
	"github.com/danielpatrickdp/modelcraft/internal/xtal"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(values ...float64) func(int) float64 {
	return func(i int) float64 {
		if i < len(values) {
			return values[i]
		}
		return values[len(values)-1]
	}
}

func readReport(t *testing.T, h *harness) report.Document {
	t.Helper()
	doc, err := report.Read(filepath.Join(h.dir, OutputReport))
	require.NoError(t, err)
	return doc
}

func TestBasicXRayRunWithPhases(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 1
	h.runner.rFree = sequence(0.38)

	c := h.controller(t, proteinContents())
	term := c.Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, PhaseTerminated, c.Phase())
	assert.Equal(t, []string{"header", "parrot", "buccaneer", "refine"}, h.runner.calls)

	doc := readReport(t, h)
	assert.Equal(t, ReasonNormal, doc.TerminationReason)
	require.Len(t, doc.Cycles, 1)
	assert.Equal(t, 1, doc.Cycles[0].Cycle)
	assert.InDelta(t, 0.34, doc.Cycles[0].RWork, 1e-9)
	assert.InDelta(t, 0.38, doc.Cycles[0].RFree, 1e-9)
	require.NotNil(t, doc.Final)
	assert.Equal(t, OutputStructure, doc.Final.Structure)

	info, err := os.Stat(filepath.Join(h.dir, OutputStructure))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	_, err = os.Stat(filepath.Join(h.dir, OutputMap))
	require.NoError(t, err)

	cycles, err := h.store.ListCycles()
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestBasicXRayRunWithStartingModel(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 1
	h.cfg.Run.Model = writeModel(t, xtal.Cell{A: 79.2, B: 79.2, C: 37.0, Alpha: 90, Beta: 90, Gamma: 90}, "P 43 21 2", 5)
	h.runner.header.Columns = h.runner.header.Columns[:6] // no phase columns
	h.runner.rFree = sequence(0.45, 0.40)

	term := h.controller(t, proteinContents()).Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, []string{"header", "pdbset", "refine", "parrot", "buccaneer", "refine"}, h.runner.calls)
	doc := readReport(t, h)
	require.Len(t, doc.Cycles, 1)
	assert.InDelta(t, 0.40, doc.Cycles[0].RFree, 1e-9)
}

func TestNoModelNoPhasesFails(t *testing.T) {
	h := newHarness(t)
	h.runner.header.Columns = h.runner.header.Columns[:6]

	term := h.controller(t, proteinContents()).Run(context.Background())

	require.ErrorIs(t, term.Err, ErrNoStartingPoint)
	assert.False(t, term.Normal())
}

func TestIntensitiesAreConverted(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 1
	h.cfg.XRay.Observations = "I,SIGI"

	c := h.controller(t, proteinContents())
	term := c.Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, "ctruncate", h.runner.calls[1])
	assert.Equal(t, []string{"FMEAN", "SIGFMEAN"}, c.data.Observations.Labels)
	assert.Equal(t, []string{"FreeR_flag"}, c.data.FreeR.Labels)
}

func TestAutoStopBoundary(t *testing.T) {
	for _, k := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			h := newHarness(t)
			h.cfg.XRay.Basic = true
			h.cfg.Run.Cycles = 20
			h.cfg.Run.AutoStopCycles = k
			h.cfg.Run.Disable.SideChainFixing = true
			// one refinement per cycle; best at cycle 3
			h.runner.rFree = sequence(0.40, 0.35, 0.30, 0.31, 0.30, 0.32, 0.33)

			c := h.controller(t, proteinContents())
			term := c.Run(context.Background())

			require.True(t, term.Normal(), "reason: %s", term.Reason)
			doc := readReport(t, h)
			require.Len(t, doc.Cycles, 3+k)
			assert.Equal(t, 3+k, doc.Cycles[len(doc.Cycles)-1].Cycle)
			require.NotNil(t, c.Best())
			assert.Equal(t, 3, c.Best().Record.Cycle)
			assert.Equal(t, 3, doc.Final.Cycle)
		})
	}
}

func TestProgressAnnouncesAutoStop(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 10
	h.cfg.Run.AutoStopCycles = 2
	h.cfg.Run.Disable.SideChainFixing = true
	h.runner.rFree = sequence(0.40, 0.41, 0.42)

	var out bytes.Buffer
	c, err := New(Options{
		Config:   h.cfg,
		Contents: proteinContents(),
		Runner:   h.runner,
		Store:    h.store,
		Report:   h.report,
		Progress: NewProgress(&out, false),
	})
	require.NoError(t, err)
	term := c.Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Contains(t, out.String(), "Stopping: no improvement in the last 2 cycles")
	assert.Contains(t, out.String(), "Cycle 3")
	assert.NotContains(t, out.String(), "Cycle 4")
}

func TestAutoStopDisabledRunsAllCycles(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 6
	h.cfg.Run.AutoStopCycles = 0
	h.cfg.Run.Disable.SideChainFixing = true
	h.runner.rFree = sequence(0.30, 0.40)

	term := h.controller(t, proteinContents()).Run(context.Background())

	require.True(t, term.Normal())
	assert.Len(t, readReport(t, h).Cycles, 6)
}

func TestZeroResiduesBuiltTerminates(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 5
	h.runner.built = func(_ steps.BuildKind, i int) int {
		if i == 1 {
			return 0
		}
		return 80
	}

	c := h.controller(t, proteinContents())
	term := c.Run(context.Background())

	assert.Equal(t, ReasonNoResiduesBuilt, term.Reason)
	require.ErrorIs(t, term.Err, ErrNoResiduesBuilt)
	assert.Equal(t, "buccaneer", h.runner.calls[len(h.runner.calls)-1], "no refinement after an empty build")
	assert.Equal(t, 1, h.runner.refines)

	doc := readReport(t, h)
	assert.Equal(t, ReasonNoResiduesBuilt, doc.TerminationReason)
	assert.Len(t, doc.Cycles, 1)
	assert.Equal(t, 80, c.Current().Structure.Residues, "current state keeps the last accepted model")
}

func TestRejectedWaterRefinementRollsBack(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Cycles = 1
	h.cfg.Run.Disable = config.DisableConfig{Parrot: true, Pruning: true, DummyAtoms: true, SideChainFixing: true}
	// build refinement 0.30, water refinement 0.35
	h.runner.rFree = sequence(0.30, 0.35)

	c := h.controller(t, proteinContents())
	term := c.Run(context.Background())
	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, []string{"header", "buccaneer", "refine", "findwaters", "refine"}, h.runner.calls)

	cur := c.Current()
	assert.Equal(t, 0, cur.Structure.Waters, "waters from the rejected step are dropped")
	require.NotNil(t, cur.Refinement)
	assert.InDelta(t, 0.30, cur.Refinement.RFree, 1e-9)

	active, err := h.store.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, cur.VersionID, active.VersionID, "store rolled back with memory")
	assert.Equal(t, cur.Structure, active.Structure)

	doc := readReport(t, h)
	require.Len(t, doc.Cycles, 1)
	assert.InDelta(t, 0.30, doc.Cycles[0].RFree, 1e-9)
	assert.Equal(t, 0, doc.Cycles[0].Waters)

	var decision string
	err = h.store.DB().QueryRow(`SELECT decision FROM provenance_log WHERE step = 'waters/refine'`).Scan(&decision)
	require.NoError(t, err)
	assert.Equal(t, "reject", decision)
}

func TestImprovingWaterRefinementIsKept(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Cycles = 1
	h.cfg.Run.Disable = config.DisableConfig{Parrot: true, Pruning: true, DummyAtoms: true, SideChainFixing: true}
	h.runner.rFree = sequence(0.30, 0.28)

	c := h.controller(t, proteinContents())
	require.True(t, c.Run(context.Background()).Normal())

	assert.Equal(t, 25, c.Current().Structure.Waters)
	assert.InDelta(t, 0.28, c.Current().Refinement.RFree, 1e-9)
}

func TestIncompatibleCellAborts(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Model = writeModel(t, xtal.Cell{A: 95, B: 95, C: 37.1, Alpha: 90, Beta: 90, Gamma: 90}, "P 43 21 2", 5)

	term := h.controller(t, proteinContents()).Run(context.Background())

	assert.Equal(t, ReasonCellIncompatible, term.Reason)
	require.ErrorIs(t, term.Err, xtal.ErrCellIncompatible)
	assert.Equal(t, []string{"header"}, h.runner.calls, "no fitting or building")
	assert.Equal(t, ReasonCellIncompatible, readReport(t, h).TerminationReason)
}

func TestIncompatibleSpaceGroupAborts(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Model = writeModel(t, xtal.Cell{A: 78.9, B: 78.9, C: 37.1, Alpha: 90, Beta: 90, Gamma: 90}, "P 41 21 2", 5)

	term := h.controller(t, proteinContents()).Run(context.Background())

	assert.Equal(t, ReasonCellIncompatible, term.Reason)
}

func TestIncompatibleMMCIFModelAborts(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Model = filepath.Join(t.TempDir(), "start.cif")
	body := "data_start\n" +
		"_cell.length_a 120.0\n_cell.length_b 78.9\n_cell.length_c 37.1\n" +
		"_cell.angle_alpha 90\n_cell.angle_beta 90\n_cell.angle_gamma 90\n" +
		"_symmetry.space_group_name_H-M 'P 43 21 2'\n" +
		"loop_\n_atom_site.group_PDB\n_atom_site.label_comp_id\n_atom_site.label_asym_id\n_atom_site.label_seq_id\n" +
		"ATOM ALA A 1\nATOM ALA A 2\n"
	require.NoError(t, os.WriteFile(h.cfg.Run.Model, []byte(body), 0o644))

	term := h.controller(t, proteinContents()).Run(context.Background())

	assert.Equal(t, ReasonCellIncompatible, term.Reason)
	require.ErrorIs(t, term.Err, xtal.ErrCellIncompatible)
	assert.Equal(t, []string{"header"}, h.runner.calls, "no fitting or refinement")
}

func TestFullXRayRunWithStartingModel(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Cycles = 2
	h.cfg.Run.Disable.SideChainFixing = true
	h.cfg.Run.Model = writeModel(t, xtal.Cell{A: 79.2, B: 79.2, C: 37.0, Alpha: 90, Beta: 90, Gamma: 90}, "P 43 21 2", 5)

	c := h.controller(t, proteinContents())
	require.Equal(t, StrategyXRayFull, c.Strategy().ID())
	term := c.Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	want := []string{
		"header", "pdbset", "refine",
		// cycle 1: sheetbend only with a starting model, no pruning yet
		"sheetbend", "refine",
		"parrot",
		"findwaters-dummies", "refine",
		"buccaneer", "refine",
		"prune-chains", "refine",
		"findwaters", "refine",
		// cycle 2: pruning at 1.8 A runs without its own refinement
		"prune",
		"parrot",
		"findwaters-dummies", "refine",
		"buccaneer", "refine",
		"prune-chains", "refine",
		"findwaters", "refine",
	}
	if diff := cmp.Diff(want, h.runner.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, readReport(t, h).Cycles, 2)
}

func TestFullXRayRemovesSolventWhenDummiesDisabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.Run.Cycles = 1
	h.cfg.Run.Disable.DummyAtoms = true
	h.cfg.Run.Disable.SideChainFixing = true
	h.cfg.Run.Model = writeModel(t, xtal.Cell{A: 79.2, B: 79.2, C: 37.0, Alpha: 90, Beta: 90, Gamma: 90}, "P 43 21 2", 5)

	term := h.controller(t, proteinContents()).Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, []string{
		"header", "pdbset", "refine",
		"sheetbend", "refine",
		"parrot",
		"pdbcur", "refine",
		"buccaneer", "refine",
		"prune-chains", "refine",
		"findwaters", "refine",
	}, h.runner.calls)
}

func TestFullXRaySkipsModelStepsBeforeAModelExists(t *testing.T) {
	for name, disableDummies := range map[string]bool{"dummy atoms": false, "remove solvent": true} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.Run.Cycles = 1
			h.cfg.Run.Disable.DummyAtoms = disableDummies
			h.cfg.Run.Disable.SideChainFixing = true

			term := h.controller(t, proteinContents()).Run(context.Background())

			require.True(t, term.Normal(), "reason: %s", term.Reason)
			assert.Equal(t, []string{
				"header",
				"parrot",
				"buccaneer", "refine",
				"prune-chains", "refine",
				"findwaters", "refine",
			}, h.runner.calls)
		})
	}
}

func TestBestNeverGetsWorse(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, metric := range []gate.Metric{gate.MetricRFree, gate.MetricFSC} {
		tr := tracker{policy: gate.NewPolicy(metric)}
		var prev *steps.RefinementResult
		for cycle := 1; cycle <= 200; cycle++ {
			r := steps.RefinementResult{RFree: 0.2 + 0.2*rng.Float64(), FSC: 0.5 + 0.4*rng.Float64()}
			tr.observe(report.CycleRecord{Cycle: cycle}, state.Current{Refinement: &r})
			cur := tr.best.State.Refinement
			if prev != nil {
				if metric == gate.MetricRFree && cur.RFree > prev.RFree {
					t.Fatalf("cycle %d: best R-free rose %.4f -> %.4f", cycle, prev.RFree, cur.RFree)
				}
				if metric == gate.MetricFSC && cur.FSC < prev.FSC {
					t.Fatalf("cycle %d: best FSC fell %.4f -> %.4f", cycle, prev.FSC, cur.FSC)
				}
			}
			prev = cur
		}
	}
}

func TestTrackerIgnoresStatesWithoutRefinement(t *testing.T) {
	tr := tracker{policy: gate.NewPolicy(gate.MetricRFree)}
	assert.False(t, tr.observe(report.CycleRecord{Cycle: 1}, state.Current{}))
	assert.Nil(t, tr.best)
	assert.Equal(t, 1, tr.stalled)
}

func TestFinalReportHoldsLowestRFree(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 6
	h.cfg.Run.AutoStopCycles = 0
	h.cfg.Run.Disable.SideChainFixing = true
	h.runner.rFree = sequence(0.36, 0.31, 0.33, 0.29, 0.34, 0.30)

	require.True(t, h.controller(t, proteinContents()).Run(context.Background()).Normal())

	doc := readReport(t, h)
	assert.Equal(t, 4, doc.Final.Cycle)
	assert.InDelta(t, 0.29, doc.Final.RFree, 1e-9)
}

func TestSideChainFinalization(t *testing.T) {
	cases := []struct {
		name       string
		last       float64
		finalCycle int
	}{
		{"improves", 0.26, 3},
		{"rejected", 0.29, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.XRay.Basic = true
			h.cfg.Run.Cycles = 2
			h.cfg.Run.AutoStopCycles = 0
			h.runner.rFree = sequence(0.30, 0.27, tc.last)

			c := h.controller(t, proteinContents())
			require.True(t, c.Run(context.Background()).Normal())

			assert.Equal(t, 1, h.runner.count("side-chains"))
			doc := readReport(t, h)
			require.Len(t, doc.Cycles, 3)
			assert.Equal(t, tc.finalCycle, doc.Final.Cycle)
			if tc.finalCycle == 2 {
				assert.InDelta(t, 0.27, doc.Cycles[2].RFree, 1e-9)
			}
		})
	}
}

func TestSideChainFinalizationNeedsGoodModel(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 1
	h.runner.rFree = sequence(0.40) // R-work 0.36

	require.True(t, h.controller(t, proteinContents()).Run(context.Background()).Normal())
	assert.Zero(t, h.runner.count("side-chains"))
	assert.Len(t, readReport(t, h).Cycles, 1)
}

func TestEMRun(t *testing.T) {
	h := newHarness(t)
	h.cfg.Mode = config.ModeEM
	h.cfg.EM = config.EMConfig{Maps: []string{"map.mrc"}, Resolution: 3.2}
	h.cfg.Run.Cycles = 2
	h.cfg.Run.AutoStopCycles = 0
	h.runner.rFree = sequence(0.5, 0.4, 0.35, 0.3) // FSC 0.5, 0.6, 0.65, 0.7

	contents := proteinContents()
	contents.RNAs = []xtal.Polymer{{Sequence: "GGCUAGCC"}}
	c := h.controller(t, contents)
	term := c.Run(context.Background())

	require.True(t, term.Normal(), "reason: %s", term.Reason)
	assert.Equal(t, StrategyEM, c.Strategy().ID())
	assert.Equal(t, []string{
		"map2sf",
		"buccaneer", "refine", "nautilus", "refine",
		"buccaneer", "refine", "nautilus", "refine",
	}, h.runner.calls)

	doc := readReport(t, h)
	require.Len(t, doc.Cycles, 2)
	assert.Zero(t, doc.Cycles[0].RFree)
	assert.InDelta(t, 0.6, doc.Cycles[0].FSC, 1e-9)
	assert.InDelta(t, 0.7, doc.Cycles[1].FSC, 1e-9)
	assert.Equal(t, 2, doc.Final.Cycle)
}

func TestPreflightFailureStopsBeforeWork(t *testing.T) {
	h := newHarness(t)
	c, err := New(Options{
		Config:   h.cfg,
		Contents: proteinContents(),
		Runner:   h.runner,
		Store:    h.store,
		Report:   h.report,
		Preflight: func(context.Context) error {
			return fmt.Errorf("%w: CCP4 is not set", environ.ErrEnvironment)
		},
	})
	require.NoError(t, err)

	term := c.Run(context.Background())

	assert.Equal(t, "Environment not configured: CCP4 is not set", term.Reason)
	assert.Empty(t, h.runner.calls)
}

func TestCancelledContextInterrupts(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	term := h.controller(t, proteinContents()).Run(ctx)

	assert.Equal(t, ReasonInterrupted, term.Reason)
}

func TestControllerIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.cfg.XRay.Basic = true
	h.cfg.Run.Cycles = 1
	c := h.controller(t, proteinContents())
	require.True(t, c.Run(context.Background()).Normal())

	again := c.Run(context.Background())
	assert.False(t, again.Normal())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Config: config.DefaultConfig()})
	assert.Error(t, err)
}

func TestReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ReasonNormal},
		{fmt.Errorf("buccaneer: %w", ErrNoResiduesBuilt), ReasonNoResiduesBuilt},
		{fmt.Errorf("x: %w", xtal.ErrCellIncompatible), ReasonCellIncompatible},
		{steps.ErrZeroResidueRefinement, ReasonZeroResidueRefinement},
		{&job.ExecutableNotFoundError{Program: "cbuccaneer", Err: errors.New("exec: not found")}, "Executable not found: cbuccaneer"},
		{fmt.Errorf("%w: refmac after 1h0m0s", job.ErrStepTimeout), "Step timed out: refmac after 1h0m0s"},
		{fmt.Errorf("run: %w", context.Canceled), ReasonInterrupted},
		{job.Malformed("refmac", "no R factor"), "Step failed: refmac: malformed output: no R factor"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Reason(tc.err))
	}
}

package replay

import (
	"testing"

	"github.com/danielpatrickdp/modelcraft/internal/gate"
	"github.com/danielpatrickdp/modelcraft/internal/report"
)

// helper: X-ray cycle records with the given R-free values, R-work 0.04 lower.
func xrayCycles(rfree ...float64) []report.CycleRecord {
	out := make([]report.CycleRecord, len(rfree))
	for i, r := range rfree {
		out[i] = report.CycleRecord{Cycle: i + 1, Residues: 100 + i, RWork: r - 0.04, RFree: r}
	}
	return out
}

func actions(results []ReplayResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Action
	}
	return out
}

func TestReplay_ImprovingRunNeverStops(t *testing.T) {
	cycles := xrayCycles(0.45, 0.40, 0.36, 0.33, 0.31)
	results := Replay(cycles, DefaultReplayConfig())

	if len(results) != len(cycles) {
		t.Fatalf("expected %d results, got %d", len(cycles), len(results))
	}
	for _, r := range results {
		if r.Action != ActionImproved {
			t.Errorf("cycle %d: expected improved, got %s (%s)", r.Cycle, r.Action, r.Reason)
		}
		if r.Stop {
			t.Errorf("cycle %d: unexpected stop", r.Cycle)
		}
		if r.GateDecision == nil || !r.GateDecision.Committed() {
			t.Errorf("cycle %d: expected committed gate decision", r.Cycle)
		}
	}
	if results[4].BestCycle != 5 {
		t.Errorf("expected best cycle 5, got %d", results[4].BestCycle)
	}
}

func TestReplay_StopsAfterStalledCycles(t *testing.T) {
	cycles := xrayCycles(0.40, 0.35, 0.36, 0.35, 0.37, 0.34)
	cfg := DefaultReplayConfig()
	cfg.AutoStopCycles = 3

	results := Replay(cycles, cfg)

	if len(results) != 5 {
		t.Fatalf("expected replay to end at cycle 5, got %d results", len(results))
	}
	last := results[len(results)-1]
	if !last.Stop || last.Stalled != 3 {
		t.Errorf("expected stop with 3 stalled cycles, got stop=%v stalled=%d", last.Stop, last.Stalled)
	}
	// equal R-free is not an improvement
	if results[3].Action != ActionStalled {
		t.Errorf("cycle 4: expected stalled, got %s", results[3].Action)
	}
	if last.BestCycle != 2 {
		t.Errorf("expected best cycle 2, got %d", last.BestCycle)
	}
}

func TestReplay_ImprovementResetsCounter(t *testing.T) {
	cycles := xrayCycles(0.40, 0.41, 0.39, 0.42, 0.43)
	cfg := DefaultReplayConfig()
	cfg.AutoStopCycles = 2

	results := Replay(cycles, cfg)

	want := []string{ActionImproved, ActionStalled, ActionImproved, ActionStalled, ActionStalled}
	got := actions(results)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cycle %d: expected %s, got %s", i+1, want[i], got[i])
		}
	}
	if results[2].Stalled != 0 {
		t.Errorf("cycle 3: expected stalled counter reset, got %d", results[2].Stalled)
	}
}

func TestReplay_InvalidCycleCountsAsStalled(t *testing.T) {
	cycles := xrayCycles(0.40, 0.35)
	cycles[1].RFree = 1.7 // outside [0, MaxR]
	cfg := DefaultReplayConfig()
	cfg.AutoStopCycles = 1

	results := Replay(cycles, cfg)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	r := results[1]
	if r.Action != ActionInvalid {
		t.Errorf("expected invalid, got %s", r.Action)
	}
	if r.GateDecision != nil {
		t.Error("expected no gate decision for an invalid cycle")
	}
	if r.EvalResult.Passed {
		t.Error("expected eval to fail")
	}
	if !r.Stop || r.BestCycle != 1 {
		t.Errorf("expected stop with best cycle 1, got stop=%v best=%d", r.Stop, r.BestCycle)
	}
}

func TestReplay_ZeroResidueCycleIsVetoed(t *testing.T) {
	cycles := xrayCycles(0.40, 0.30)
	cycles[1].Residues = 0

	results := Replay(cycles, DefaultReplayConfig())

	r := results[1]
	if r.Action != ActionStalled {
		t.Fatalf("expected stalled, got %s", r.Action)
	}
	if r.GateDecision == nil || !r.GateDecision.Vetoed {
		t.Fatal("expected a vetoed gate decision")
	}
	if r.GateDecision.VetoSignals[0].Type != gate.VetoZeroResidues {
		t.Errorf("expected zero residue veto, got %s", r.GateDecision.VetoSignals[0].Type)
	}
}

func TestReplay_DisabledAutoStopRunsEveryCycle(t *testing.T) {
	cycles := xrayCycles(0.30, 0.31, 0.32, 0.33, 0.34, 0.35)
	cfg := DefaultReplayConfig()
	cfg.AutoStopCycles = 0

	results := Replay(cycles, cfg)

	if len(results) != len(cycles) {
		t.Fatalf("expected %d results, got %d", len(cycles), len(results))
	}
	for _, r := range results {
		if r.Stop {
			t.Errorf("cycle %d: unexpected stop", r.Cycle)
		}
	}
}

func TestReplay_FSCOrdering(t *testing.T) {
	cycles := []report.CycleRecord{
		{Cycle: 1, Residues: 300, FSC: 0.50},
		{Cycle: 2, Residues: 320, FSC: 0.58},
		{Cycle: 3, Residues: 318, FSC: 0.55},
	}
	results := Replay(cycles, ForMetric(gate.MetricFSC))

	want := []string{ActionImproved, ActionImproved, ActionStalled}
	for i, r := range results {
		if r.Action != want[i] {
			t.Errorf("cycle %d: expected %s, got %s (%s)", r.Cycle, want[i], r.Action, r.Reason)
		}
	}
}

func TestSummarize(t *testing.T) {
	cycles := xrayCycles(0.40, 0.35, 0.36, 0.37)
	cycles[3].RFree = -0.1
	cfg := DefaultReplayConfig()
	cfg.AutoStopCycles = 2

	sum := Summarize(Replay(cycles, cfg), cycles)

	if sum.TotalCycles != 4 {
		t.Errorf("expected 4 cycles, got %d", sum.TotalCycles)
	}
	if sum.Improved != 2 || sum.Stalled != 1 || sum.Invalid != 1 {
		t.Errorf("unexpected counts: improved=%d stalled=%d invalid=%d", sum.Improved, sum.Stalled, sum.Invalid)
	}
	if sum.StopCycle != 4 {
		t.Errorf("expected stop at cycle 4, got %d", sum.StopCycle)
	}
	if sum.BestCycle != 2 || sum.Best == nil || sum.Best.RFree != 0.35 {
		t.Errorf("expected best cycle 2 with R-free 0.35, got %d %+v", sum.BestCycle, sum.Best)
	}
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil, nil)
	if sum.TotalCycles != 0 || sum.Best != nil || sum.StopCycle != 0 {
		t.Errorf("expected empty summary, got %+v", sum)
	}
}

func TestSweep(t *testing.T) {
	f, err := LoadFixture("testdata/xray_run.json")
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	got := Sweep(f.Cycles, f.Config.ToReplayConfig(), []int{1, 2, 3, 0})

	want := []SweepResult{
		{AutoStopCycles: 1, CyclesRun: 5, StopCycle: 5, BestCycle: 4, BestValue: 0.312},
		{AutoStopCycles: 2, CyclesRun: 8, StopCycle: 8, BestCycle: 6, BestValue: 0.305},
		{AutoStopCycles: 3, CyclesRun: 9, StopCycle: 0, BestCycle: 9, BestValue: 0.300},
		{AutoStopCycles: 0, CyclesRun: 9, StopCycle: 0, BestCycle: 9, BestValue: 0.300},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d sweep results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("auto_stop_cycles=%d: expected %+v, got %+v", want[i].AutoStopCycles, want[i], got[i])
		}
	}
}

func TestMetricFor(t *testing.T) {
	if got := MetricFor(xrayCycles(0.4)); got != gate.MetricRFree {
		t.Errorf("x-ray: got %s", got)
	}
	if got := MetricFor([]report.CycleRecord{{Cycle: 1, FSC: 0.6}}); got != gate.MetricFSC {
		t.Errorf("em: got %s", got)
	}
	if got := MetricFor(nil); got != gate.MetricRFree {
		t.Errorf("empty: got %s", got)
	}
}
